package services

import (
	"sort"
	"testing"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/infrastructure/platform/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	occupiedRoom domain.ChannelID = 5001
	emptyRoom    domain.ChannelID = 5002
	goneRoom     domain.ChannelID = 5003
	parkedUser   domain.UserID    = 3004
)

// seedRestart leaves rows behind as if the process had stopped: one room
// still in use, one empty, one deleted while we were down, and a member
// waiting in the trigger channel.
func seedRestart(t *testing.T, h *harness) {
	t.Helper()
	at := h.clock.Now().Add(-time.Hour)
	for _, r := range []struct {
		id    domain.ChannelID
		owner domain.UserID
	}{{occupiedRoom, userA}, {emptyRoom, userB}, {goneRoom, userC}} {
		require.NoError(t, h.store.CreateRoom(h.ctx, &domain.Room{
			GuildID:      testGuild,
			TriggerID:    testTrigger,
			OwnerID:      r.owner,
			RoomID:       r.id,
			CreatedAt:    at,
			LastActivity: at,
		}, nil))
	}
	h.platform.AddVoiceChannel(testGuild, occupiedRoom, 0)
	h.platform.AddVoiceChannel(testGuild, emptyRoom, 0)
	h.platform.Join(testGuild, userA, occupiedRoom)
	h.platform.AddMember(testGuild, parkedUser, "D")
	h.platform.Join(testGuild, parkedUser, testTrigger)
}

// slowCleanup keeps delayed cleanups pending for the rest of the test.
func (h *harness) slowCleanup() {
	h.manager.cleanup.Stop()
	h.manager.cleanup = NewCleanupScheduler(time.Hour, h.manager.recheck)
}

type managedState struct {
	id     domain.ChannelID
	status domain.RoomStatus
}

func managedSet(m *LifecycleManager) []managedState {
	var out []managedState
	for _, mr := range m.Rooms().Snapshot() {
		out = append(out, managedState{id: mr.RoomID, status: mr.Status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func TestReconcile_DelayedModeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.slowCleanup()
	seedRestart(t, h)
	r := NewReconciler(h.manager, zap.NewNop().Sugar())

	first, err := r.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Kept)
	assert.Equal(t, 1, first.Gone)
	assert.Equal(t, 1, first.Deferred)
	assert.Equal(t, 1, first.Provisioned)
	assert.Zero(t, first.Failed)
	set := managedSet(h.manager)

	second, err := r.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Kept)
	assert.Zero(t, second.Gone)
	assert.Equal(t, 1, second.Deferred)
	assert.Zero(t, second.Provisioned)

	assert.Equal(t, set, managedSet(h.manager))
	assert.Zero(t, h.platform.TotalDeletes())
	assert.Equal(t, 1, h.manager.Cleanup().PendingCount())
	assert.True(t, h.manager.Cleanup().Pending(emptyRoom))

	gone, err := h.store.RoomByID(h.ctx, goneRoom)
	require.NoError(t, err)
	assert.False(t, gone.Active)

	assert.Equal(t, 1, h.platform.Creates())
	m, err := h.platform.Member(h.ctx, testGuild, parkedUser)
	require.NoError(t, err)
	assert.NotEqual(t, testTrigger, m.VoiceChannelID)
}

func TestReconcile_ImmediateModeDeletesOnce(t *testing.T) {
	h := newHarness(t, withStartupMode(domain.CleanupImmediate))
	seedRestart(t, h)
	r := NewReconciler(h.manager, zap.NewNop().Sugar())

	first, err := r.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Cleaned)
	set := managedSet(h.manager)

	second, err := r.Run(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Cleaned)

	assert.Equal(t, set, managedSet(h.manager))
	assert.Equal(t, 1, h.platform.Deletes(emptyRoom))
	assert.Equal(t, 1, h.platform.TotalDeletes())
	_, managed := h.manager.Rooms().Get(emptyRoom)
	assert.False(t, managed)
}

func TestReconcile_ReappliesPermissionsToKeptRooms(t *testing.T) {
	h := newHarness(t)
	h.slowCleanup()
	seedRestart(t, h)

	_, err := NewReconciler(h.manager, zap.NewNop().Sugar()).Run(h.ctx)
	require.NoError(t, err)

	edits := h.platform.Edits(occupiedRoom)
	require.Len(t, edits, 1)
	assert.Nil(t, edits[0].Name)
	owner, ok := findOverwrite(edits[0].Overwrites, domain.TargetID(userA), domain.TargetUser)
	require.True(t, ok)
	assert.True(t, owner.Allow.Has(domain.OwnerGrant))
}

func TestReconcile_TransientLookupDefers(t *testing.T) {
	h := newHarness(t)
	h.slowCleanup()
	seedRestart(t, h)
	h.platform.SetUncached(occupiedRoom, true)
	h.platform.SetError(memory.OpFetch, domain.ErrPlatformUnavailable)

	rep, err := NewReconciler(h.manager, zap.NewNop().Sugar()).Run(h.ctx)
	require.NoError(t, err)

	mr, ok := h.manager.Rooms().Get(occupiedRoom)
	require.True(t, ok)
	assert.Equal(t, domain.RoomPendingCleanup, mr.Status)
	assert.True(t, h.manager.Cleanup().Pending(occupiedRoom))

	stored, err := h.store.RoomByID(h.ctx, occupiedRoom)
	require.NoError(t, err)
	assert.True(t, stored.Active, "an unreachable platform never deactivates rooms")
	assert.GreaterOrEqual(t, rep.Deferred, 1)
}
