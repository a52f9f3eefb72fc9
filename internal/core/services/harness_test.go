package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/infrastructure/platform/memory"
	"voicerooms/internal/infrastructure/repositories/sqlite"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testGuild   domain.GuildID   = 1000
	testTrigger domain.ChannelID = 2000
	userA       domain.UserID    = 3001
	userB       domain.UserID    = 3002
	userC       domain.UserID    = 3003

	triggerLimit    = 4
	testCooldown    = 30
	testCleanupWait = 20 * time.Millisecond
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *sqlite.Store
	platform *memory.Platform
	config   *GuildConfigService
	guard    *MemoryGuard
	events   *recordingPublisher
	manager  *LifecycleManager
	clock    *fakeClock
}

type harnessOption func(*GuildConfigDefaults)

func withStartupMode(mode domain.CleanupMode) harnessOption {
	return func(d *GuildConfigDefaults) { d.StartupCleanupMode = mode }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	store, err := sqlite.Open(ctx, ":memory:", logger)
	require.NoError(t, err)

	p := memory.New()
	p.AddVoiceChannel(testGuild, testTrigger, triggerLimit)
	for _, u := range []domain.UserID{userA, userB, userC} {
		p.AddMember(testGuild, u, displayName(u))
	}
	require.NoError(t, store.AddTriggerChannel(ctx, domain.TriggerChannel{GuildID: testGuild, ChannelID: testTrigger}))

	defaults := GuildConfigDefaults{
		CooldownSeconds:    testCooldown,
		StartupCleanupMode: domain.CleanupDelayed,
		CacheTTL:           time.Minute,
	}
	for _, opt := range opts {
		opt(&defaults)
	}
	config := NewGuildConfigService(store, defaults, logger)

	h := &harness{
		t:        t,
		ctx:      ctx,
		store:    store,
		platform: p,
		config:   config,
		guard:    NewMemoryGuard(time.Minute),
		events:   &recordingPublisher{},
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.manager = NewLifecycleManager(LifecycleDeps{
		Store:    store,
		Platform: p,
		Config:   config,
		Guard:    h.guard,
		Events:   h.events,
		Logger:   logger,
	}, LifecycleConfig{CleanupDelay: testCleanupWait})
	h.manager.now = h.clock.Now

	t.Cleanup(func() {
		h.manager.Close()
		config.Close()
		store.Close()
	})
	return h
}

func displayName(u domain.UserID) string {
	switch u {
	case userA:
		return "A"
	case userB:
		return "B"
	case userC:
		return "C"
	}
	return "member"
}

// join moves a member and delivers the gateway update.
func (h *harness) join(u domain.UserID, ch domain.ChannelID) {
	h.manager.HandleVoiceStateUpdate(h.ctx, h.platform.Join(testGuild, u, ch))
}

func (h *harness) leave(u domain.UserID) {
	h.manager.HandleVoiceStateUpdate(h.ctx, h.platform.Leave(testGuild, u))
}

// provision joins the trigger and returns the room the member lands in.
func (h *harness) provision(u domain.UserID) domain.ChannelID {
	h.t.Helper()
	h.join(u, testTrigger)
	m, err := h.platform.Member(h.ctx, testGuild, u)
	require.NoError(h.t, err)
	require.NotEqual(h.t, testTrigger, m.VoiceChannelID, "member was not moved out of the trigger")
	return m.VoiceChannelID
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.RoomEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.RoomEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func findOverwrite(ows []domain.Overwrite, id domain.TargetID, typ domain.TargetType) (domain.Overwrite, bool) {
	for _, ow := range ows {
		if ow.TargetID == id && ow.TargetType == typ {
			return ow, true
		}
	}
	return domain.Overwrite{}, false
}
