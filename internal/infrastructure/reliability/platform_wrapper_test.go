package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/infrastructure/platform/memory"
	"voicerooms/pkg/circuitbreaker"
	"voicerooms/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const guildID domain.GuildID = 1

type countingPlatform struct {
	*memory.Platform
	deletes int32
	members int32
}

func (p *countingPlatform) DeleteRoom(ctx context.Context, g domain.GuildID, id domain.ChannelID) (domain.DeleteOutcome, error) {
	atomic.AddInt32(&p.deletes, 1)
	return p.Platform.DeleteRoom(ctx, g, id)
}

func (p *countingPlatform) Member(ctx context.Context, g domain.GuildID, u domain.UserID) (*domain.Member, error) {
	atomic.AddInt32(&p.members, 1)
	return p.Platform.Member(ctx, g, u)
}

// lostReplyPlatform creates the room but reports a timeout the first time.
type lostReplyPlatform struct {
	*memory.Platform
	failed atomic.Bool
}

func (p *lostReplyPlatform) CreateRoom(ctx context.Context, spec domain.RoomSpec) (*domain.PlatformRoom, error) {
	room, err := p.Platform.CreateRoom(ctx, spec)
	if err != nil {
		return nil, err
	}
	if p.failed.CompareAndSwap(false, true) {
		return nil, context.DeadlineExceeded
	}
	return room, nil
}

func testConfig() Config {
	return Config{
		RequestsPerSecond: 1000,
		Burst:             100,
		CallTimeout:       time.Second,
		Retry: retry.Config{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		CircuitBreaker: circuitbreaker.Config{
			FailureThreshold:    3,
			SuccessThreshold:    1,
			Timeout:             time.Hour,
			MaxRequestsHalfOpen: 1,
		},
	}
}

func newWrapper(t *testing.T) (*PlatformWrapper, *countingPlatform) {
	p := &countingPlatform{Platform: memory.New()}
	return NewPlatformWrapper(p, testConfig(), zap.NewNop().Sugar()), p
}

func TestPlatformWrapper_PassesOutcomesThrough(t *testing.T) {
	w, p := newWrapper(t)
	ctx := context.Background()

	outcome, err := w.DeleteRoom(ctx, guildID, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.DeleteNotFound, outcome)

	for i := 0; i < 5; i++ {
		_, err = w.Member(ctx, guildID, 7)
		assert.ErrorIs(t, err, domain.ErrMemberNotFound)
		assert.NotErrorIs(t, err, domain.ErrPlatformUnavailable)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&p.members), "not-found answers are not retried")
	assert.Equal(t, circuitbreaker.StateClosed, w.BreakerState())
}

func TestPlatformWrapper_RetriesThenReportsUnavailable(t *testing.T) {
	w, p := newWrapper(t)
	p.SetError(memory.OpDelete, errors.New("502 bad gateway"))

	_, err := w.DeleteRoom(context.Background(), guildID, 42)
	require.ErrorIs(t, err, domain.ErrPlatformUnavailable)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&p.deletes))
}

func TestPlatformWrapper_OpenBreakerFailsFast(t *testing.T) {
	w, p := newWrapper(t)
	p.SetError(memory.OpDelete, errors.New("connection reset"))
	ctx := context.Background()

	_, err := w.DeleteRoom(ctx, guildID, 42)
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, w.BreakerState())
	calls := atomic.LoadInt32(&p.deletes)

	p.SetError(memory.OpDelete, nil)
	_, err = w.DeleteRoom(ctx, guildID, 42)
	assert.ErrorIs(t, err, domain.ErrPlatformUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, calls, atomic.LoadInt32(&p.deletes))
}

func TestPlatformWrapper_CachedRoomBypassesGuards(t *testing.T) {
	w, p := newWrapper(t)
	p.AddVoiceChannel(guildID, 10, 3)
	p.SetError(memory.OpFetch, errors.New("timeout"))

	room, ok := w.CachedRoom(guildID, 10)
	require.True(t, ok)
	assert.Equal(t, 3, room.UserLimit)

	_, _, err := w.FetchRoom(context.Background(), guildID, 10)
	assert.ErrorIs(t, err, domain.ErrPlatformUnavailable)
}

func TestPlatformWrapper_CreateRoomIsNotRetried(t *testing.T) {
	p := &lostReplyPlatform{Platform: memory.New()}
	w := NewPlatformWrapper(p, testConfig(), zap.NewNop().Sugar())

	room, err := w.CreateRoom(context.Background(), domain.RoomSpec{GuildID: guildID, Name: "Ana's Room"})
	require.ErrorIs(t, err, domain.ErrPlatformUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, room)
	assert.Equal(t, 1, p.Creates())
}
