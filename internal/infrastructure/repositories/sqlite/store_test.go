package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voicerooms/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guildID   domain.GuildID   = 100
	triggerID domain.ChannelID = 200
	ownerID   domain.UserID    = 300
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRoom(id domain.ChannelID, owner domain.UserID, at time.Time) *domain.Room {
	return &domain.Room{
		GuildID:      guildID,
		TriggerID:    triggerID,
		OwnerID:      owner,
		RoomID:       id,
		CreatedAt:    at,
		LastActivity: at,
	}
}

func intPtr(v int) *int { return &v }

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, s.db, s.logger))

	var version int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestCreateRoom_StampsCooldownAndLastTrigger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room := newRoom(1, ownerID, baseTime)
	require.NoError(t, s.CreateRoom(ctx, room, nil))
	assert.True(t, room.Active)

	got, err := s.RoomByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, room.OwnerID, got.OwnerID)
	assert.Equal(t, room.TriggerID, got.TriggerID)
	assert.True(t, got.CreatedAt.Equal(baseTime))
	assert.True(t, got.Active)

	cd, err := s.Cooldown(ctx, domain.Scope{GuildID: guildID, TriggerID: triggerID, UserID: ownerID})
	require.NoError(t, err)
	require.NotNil(t, cd)
	assert.True(t, cd.LastProvisioned.Equal(baseTime))

	last, err := s.LastTrigger(ctx, guildID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, triggerID, last)
}

func TestCreateRoom_DeactivatesOnlyStaleRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRoom(ctx, newRoom(1, ownerID, baseTime), nil))
	require.NoError(t, s.CreateRoom(ctx, newRoom(2, ownerID, baseTime.Add(time.Minute)), []domain.ChannelID{1}))

	// room 1 is still live, so both stay active
	active, err := s.ActiveRoomsByTrigger(ctx, guildID, triggerID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	// room 1 is not in the live set any more: it is stale
	require.NoError(t, s.CreateRoom(ctx, newRoom(3, ownerID, baseTime.Add(2*time.Minute)), []domain.ChannelID{2}))
	active, err = s.ActiveRoomsByTrigger(ctx, guildID, triggerID)
	require.NoError(t, err)
	ids := make([]domain.ChannelID, 0, len(active))
	for _, r := range active {
		ids = append(ids, r.RoomID)
	}
	assert.Equal(t, []domain.ChannelID{2, 3}, ids)

	stale, err := s.RoomByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, stale.Active)
}

func TestCreateRoom_OtherOwnersUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRoom(ctx, newRoom(1, ownerID, baseTime), nil))
	require.NoError(t, s.CreateRoom(ctx, newRoom(2, ownerID+1, baseTime), nil))

	active, err := s.ActiveRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestDeactivateAndTouchRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, newRoom(1, ownerID, baseTime), nil))

	later := baseTime.Add(time.Hour)
	require.NoError(t, s.TouchRoom(ctx, 1, later))
	got, err := s.RoomByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.LastActivity.Equal(later))

	require.NoError(t, s.DeactivateRoom(ctx, 1))
	active, err := s.ActiveRoomsByGuild(ctx, guildID)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, s.DeactivateRoom(ctx, 99), domain.ErrRoomNotFound)
	assert.ErrorIs(t, s.TouchRoom(ctx, 99, later), domain.ErrRoomNotFound)
	_, err = s.RoomByID(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestPreferences_UpsertAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := domain.Scope{GuildID: guildID, TriggerID: triggerID, UserID: ownerID}

	pref, err := s.Preference(ctx, scope)
	require.NoError(t, err)
	assert.Nil(t, pref)

	require.NoError(t, s.UpsertPreference(ctx, &domain.Preference{Scope: scope, Name: "Ops Room", UserLimit: intPtr(5), Locked: true}))
	pref, err = s.Preference(ctx, scope)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.Equal(t, "Ops Room", pref.Name)
	require.NotNil(t, pref.UserLimit)
	assert.Equal(t, 5, *pref.UserLimit)
	assert.True(t, pref.Locked)

	require.NoError(t, s.UpsertPreference(ctx, &domain.Preference{Scope: scope, Name: "Ops Room"}))
	pref, err = s.Preference(ctx, scope)
	require.NoError(t, err)
	assert.Nil(t, pref.UserLimit)
	assert.False(t, pref.Locked)
}

func TestAccessOverrides_OneRowPerFamilyAndTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := domain.Scope{GuildID: guildID, TriggerID: triggerID, UserID: ownerID}

	permit := domain.AccessOverride{Scope: scope, TargetID: 7, TargetType: domain.TargetRole, Feature: domain.FeaturePermit, Enabled: true}
	require.NoError(t, s.SetAccessOverride(ctx, permit))
	permit.Enabled = false
	require.NoError(t, s.SetAccessOverride(ctx, permit))
	require.NoError(t, s.SetAccessOverride(ctx, domain.AccessOverride{
		Scope: scope, TargetID: 7, TargetType: domain.TargetRole, Feature: domain.FeaturePushToTalk, Enabled: true,
	}))

	got, err := s.AccessOverrides(ctx, scope)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.FeaturePermit, got[0].Feature)
	assert.False(t, got[0].Enabled)
	assert.Equal(t, domain.FeaturePushToTalk, got[1].Feature)

	require.NoError(t, s.DeleteAccessOverride(ctx, scope, domain.FeaturePermit, 7, domain.TargetRole))
	got, err = s.AccessOverrides(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	err = s.SetAccessOverride(ctx, domain.AccessOverride{Scope: scope, TargetID: 1, TargetType: "group", Feature: domain.FeaturePermit})
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)
	err = s.SetAccessOverride(ctx, domain.AccessOverride{Scope: scope, TargetID: 1, TargetType: domain.TargetUser, Feature: "video"})
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)
}

func TestPruneCooldowns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, at := range []time.Time{baseTime.Add(-48 * time.Hour), baseTime.Add(-time.Hour), baseTime} {
		require.NoError(t, s.UpsertCooldown(ctx, domain.Cooldown{
			Scope:           domain.Scope{GuildID: guildID, TriggerID: triggerID, UserID: domain.UserID(i + 1)},
			LastProvisioned: at,
		}))
	}

	n, err := s.PruneCooldowns(ctx, baseTime.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	cd, err := s.Cooldown(ctx, domain.Scope{GuildID: guildID, TriggerID: triggerID, UserID: 1})
	require.NoError(t, err)
	assert.Nil(t, cd)
}

func TestTriggerChannels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddTriggerChannel(ctx, domain.TriggerChannel{GuildID: guildID, ChannelID: 20, CategoryID: 9}))
	require.NoError(t, s.AddTriggerChannel(ctx, domain.TriggerChannel{GuildID: guildID, ChannelID: 10, CategoryID: 9}))
	assert.ErrorIs(t, s.AddTriggerChannel(ctx, domain.TriggerChannel{GuildID: guildID, ChannelID: 10}), domain.ErrTriggerExists)

	triggers, err := s.TriggerChannels(ctx, guildID)
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, domain.ChannelID(20), triggers[0].ChannelID)
	assert.Equal(t, 1, triggers[0].Position)
	assert.Equal(t, domain.ChannelID(10), triggers[1].ChannelID)
	assert.Equal(t, 2, triggers[1].Position)

	require.NoError(t, s.CreateRoom(ctx, &domain.Room{GuildID: guildID + 1, TriggerID: 5, OwnerID: 1, RoomID: 6, CreatedAt: baseTime, LastActivity: baseTime}, nil))
	guilds, err := s.TriggerGuilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.GuildID{guildID, guildID + 1}, guilds)

	require.NoError(t, s.RemoveTriggerChannel(ctx, guildID, 20))
	assert.ErrorIs(t, s.RemoveTriggerChannel(ctx, guildID, 20), domain.ErrTriggerNotFound)
}

func TestGuildSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	gs, err := s.GuildSettings(ctx, guildID)
	require.NoError(t, err)
	assert.Nil(t, gs)

	require.NoError(t, s.UpsertGuildSettings(ctx, domain.GuildSettings{GuildID: guildID, CooldownSeconds: intPtr(0), StartupCleanupMode: domain.CleanupImmediate}))
	gs, err = s.GuildSettings(ctx, guildID)
	require.NoError(t, err)
	require.NotNil(t, gs.CooldownSeconds)
	assert.Equal(t, 0, *gs.CooldownSeconds)
	assert.Equal(t, domain.CleanupImmediate, gs.StartupCleanupMode)

	require.NoError(t, s.UpsertGuildSettings(ctx, domain.GuildSettings{GuildID: guildID}))
	gs, err = s.GuildSettings(ctx, guildID)
	require.NoError(t, err)
	assert.Nil(t, gs.CooldownSeconds)
	assert.Equal(t, domain.CleanupMode(""), gs.StartupCleanupMode)
}

func TestTimestampsSortAsText(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 0, 0, 0, 500000000, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Second))
	assert.Less(t, a, b)
	assert.Len(t, a, len(b))
}

func TestSnapshot_CopiesDatabase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.AddTriggerChannel(ctx, domain.TriggerChannel{GuildID: guildID, ChannelID: triggerID}))

	path := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, s.Snapshot(ctx, path))

	copied, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer copied.Close()

	triggers, err := copied.TriggerChannels(ctx, guildID)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, triggerID, triggers[0].ChannelID)

	// The target must not exist.
	assert.Error(t, s.Snapshot(ctx, path))
}
