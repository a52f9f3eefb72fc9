package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/services"
	"voicerooms/internal/infrastructure/platform/memory"
	"voicerooms/internal/infrastructure/repositories/sqlite"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	bridgeGuild   domain.GuildID   = 1
	bridgeTrigger domain.ChannelID = 20
	bridgeRoom    domain.ChannelID = 7001
	bridgeOwner   domain.UserID    = 5
	bridgeGuest   domain.UserID    = 6
)

type bridge struct {
	store    *sqlite.Store
	platform *memory.Platform
	manager  *services.LifecycleManager
	conn     *websocket.Conn
	ready    chan struct{}
}

// newBridge wires a lifecycle manager behind the gateway the way the binary
// does, with a room persisted by a previous run.
func newBridge(t *testing.T) *bridge {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	store, err := sqlite.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	require.NoError(t, store.AddTriggerChannel(ctx, domain.TriggerChannel{GuildID: bridgeGuild, ChannelID: bridgeTrigger}))
	require.NoError(t, store.CreateRoom(ctx, &domain.Room{
		GuildID:      bridgeGuild,
		TriggerID:    bridgeTrigger,
		OwnerID:      bridgeOwner,
		RoomID:       bridgeRoom,
		CreatedAt:    now,
		LastActivity: now,
	}, nil))

	platform := memory.New()
	guilds := services.NewGuildConfigService(store, services.GuildConfigDefaults{
		CooldownSeconds:    30,
		StartupCleanupMode: domain.CleanupDelayed,
		CacheTTL:           time.Minute,
	}, logger)
	t.Cleanup(guilds.Close)

	manager := services.NewLifecycleManager(services.LifecycleDeps{
		Store:    store,
		Platform: platform,
		Config:   guilds,
		Guard:    services.NewMemoryGuard(time.Minute),
		Logger:   logger,
	}, services.LifecycleConfig{CleanupDelay: 10 * time.Millisecond})
	t.Cleanup(manager.Close)

	reconciler := services.NewReconciler(manager, logger)
	srv := NewWebSocketServer(manager, platform, nil, Config{}, logger)

	b := &bridge{store: store, platform: platform, manager: manager, ready: make(chan struct{}, 2)}
	srv.OnReady(func(ctx context.Context) {
		reconciler.RunAtStartup(ctx)
		b.ready <- struct{}{}
	})
	b.conn = dial(t, srv)
	return b
}

func (b *bridge) send(t *testing.T, frame string) {
	t.Helper()
	r := roundTrip(t, b.conn, frame)
	require.Equal(t, FrameAck, r.Type, r.Error)
}

func (b *bridge) moveFrame(user domain.UserID, before, after domain.ChannelID) string {
	return fmt.Sprintf(`{"type":"voice_state_update","payload":{"guild_id":%d,"user_id":%d,"before":%d,"after":%d}}`,
		bridgeGuild, user, before, after)
}

func (b *bridge) waitReady(t *testing.T) {
	t.Helper()
	select {
	case <-b.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready hook did not run")
	}
}

// replay sends what an adapter knows after a restart: the room, its owner
// and where the owner sits.
func (b *bridge) replay(t *testing.T) {
	t.Helper()
	b.send(t, fmt.Sprintf(`{"type":"voice_channel","payload":{"guild_id":%d,"channel_id":%d}}`, bridgeGuild, bridgeRoom))
	b.send(t, fmt.Sprintf(`{"type":"guild_member","payload":{"guild_id":%d,"user_id":%d,"display_name":"Ana"}}`, bridgeGuild, bridgeOwner))
	b.send(t, b.moveFrame(bridgeOwner, 0, bridgeRoom))
}

func TestBridge_StartupReconcileWaitsForReplay(t *testing.T) {
	b := newBridge(t)
	b.replay(t)

	// Nothing is reconciled before the adapter says it is done.
	_, managed := b.manager.Rooms().Get(bridgeRoom)
	assert.False(t, managed)

	b.send(t, `{"type":"ready"}`)
	b.waitReady(t)

	row, err := b.store.RoomByID(context.Background(), bridgeRoom)
	require.NoError(t, err)
	assert.True(t, row.Active)
	_, managed = b.manager.Rooms().Get(bridgeRoom)
	require.True(t, managed)

	// A second ready, from a reconnect, does not reconcile again.
	b.send(t, `{"type":"ready"}`)
	b.waitReady(t)

	b.send(t, b.moveFrame(bridgeOwner, bridgeRoom, 0))
	assert.Eventually(t, func() bool {
		_, ok := b.platform.Room(bridgeRoom)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.platform.Deletes(bridgeRoom))
}

func TestBridge_ChannelUpdateDoesNotEmptyOccupiedRoom(t *testing.T) {
	b := newBridge(t)
	b.replay(t)
	b.send(t, `{"type":"ready"}`)
	b.waitReady(t)

	b.send(t, b.moveFrame(bridgeGuest, 0, bridgeRoom))
	b.send(t, fmt.Sprintf(`{"type":"voice_channel","payload":{"guild_id":%d,"channel_id":%d,"user_limit":3}}`, bridgeGuild, bridgeRoom))
	b.send(t, b.moveFrame(bridgeGuest, bridgeRoom, 0))

	assert.Never(t, func() bool {
		_, ok := b.platform.Room(bridgeRoom)
		return !ok
	}, 200*time.Millisecond, 10*time.Millisecond)

	room, ok := b.platform.Room(bridgeRoom)
	require.True(t, ok)
	assert.Equal(t, []domain.UserID{bridgeOwner}, room.Members)
	assert.Equal(t, 3, room.UserLimit)
	assert.Zero(t, b.platform.TotalDeletes())
}
