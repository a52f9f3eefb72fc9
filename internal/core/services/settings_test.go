package services

import (
	"testing"
	"time"

	"voicerooms/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuildConfigService_DefaultsAndOverrides(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, testCooldown, h.config.CooldownSeconds(h.ctx, testGuild))
	assert.Equal(t, domain.CleanupDelayed, h.config.StartupCleanupMode(h.ctx, testGuild))

	cooldown := 5
	require.NoError(t, h.config.SetGuildSettings(h.ctx, domain.GuildSettings{
		GuildID:            testGuild,
		CooldownSeconds:    &cooldown,
		StartupCleanupMode: domain.CleanupImmediate,
	}))
	assert.Equal(t, 5, h.config.CooldownSeconds(h.ctx, testGuild))
	assert.Equal(t, domain.CleanupImmediate, h.config.StartupCleanupMode(h.ctx, testGuild))
	assert.Equal(t, testCooldown, h.config.CooldownSeconds(h.ctx, testGuild+1))

	eff := h.config.Settings(h.ctx, testGuild)
	require.NotNil(t, eff.CooldownSeconds)
	assert.Equal(t, 5, *eff.CooldownSeconds)

	bad := -1
	err := h.config.SetGuildSettings(h.ctx, domain.GuildSettings{GuildID: testGuild, CooldownSeconds: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)
	err = h.config.SetGuildSettings(h.ctx, domain.GuildSettings{GuildID: testGuild, StartupCleanupMode: "later"})
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)
}

func TestGuildConfigService_CachesTriggers(t *testing.T) {
	h := newHarness(t)

	triggers, err := h.config.TriggerChannels(h.ctx, testGuild)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	// Written behind the cache's back.
	require.NoError(t, h.store.AddTriggerChannel(h.ctx, domain.TriggerChannel{GuildID: testGuild, ChannelID: 2001}))
	triggers, err = h.config.TriggerChannels(h.ctx, testGuild)
	require.NoError(t, err)
	assert.Len(t, triggers, 1)

	h.config.Invalidate(testGuild)
	triggers, err = h.config.TriggerChannels(h.ctx, testGuild)
	require.NoError(t, err)
	assert.Len(t, triggers, 2)
}

func TestPreferencesService_ScopeResolution(t *testing.T) {
	h := newHarness(t)
	prefs := NewPreferencesService(h.store, h.config, nil, h.manager.logger)
	const second domain.ChannelID = 2001
	require.NoError(t, h.manager.AddTriggerChannel(h.ctx, domain.TriggerChannel{GuildID: testGuild, ChannelID: second}))

	scope, err := prefs.ResolveScope(h.ctx, testGuild, userA, 0)
	require.NoError(t, err)
	assert.Equal(t, testTrigger, scope.TriggerID, "first trigger when nothing was used yet")

	require.NoError(t, h.store.SetLastTrigger(h.ctx, domain.TriggerPreference{
		GuildID: testGuild, UserID: userA, TriggerID: second, UpdatedAt: h.clock.Now(),
	}))
	scope, err = prefs.ResolveScope(h.ctx, testGuild, userA, 0)
	require.NoError(t, err)
	assert.Equal(t, second, scope.TriggerID)

	scope, err = prefs.ResolveScope(h.ctx, testGuild, userA, testTrigger)
	require.NoError(t, err)
	assert.Equal(t, testTrigger, scope.TriggerID)

	_, err = prefs.ResolveScope(h.ctx, testGuild, userA, 9999)
	assert.ErrorIs(t, err, domain.ErrTriggerNotFound)

	_, err = prefs.ResolveScope(h.ctx, testGuild+1, userA, 0)
	assert.ErrorIs(t, err, domain.ErrTriggerNotFound)
}

func TestPreferencesService_EditsAndReset(t *testing.T) {
	h := newHarness(t)
	prefs := NewPreferencesService(h.store, h.config, nil, h.manager.logger)
	scope := domain.Scope{GuildID: testGuild, TriggerID: testTrigger, UserID: userA}

	_, err := prefs.SetName(h.ctx, testGuild, userA, 0, "\x07bell")
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)

	limit := 100
	_, err = prefs.SetUserLimit(h.ctx, testGuild, userA, 0, &limit)
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)

	limit = 3
	pref, err := prefs.SetUserLimit(h.ctx, testGuild, userA, 0, &limit)
	require.NoError(t, err)
	require.NotNil(t, pref.UserLimit)
	assert.Equal(t, 3, *pref.UserLimit)

	_, err = prefs.SetName(h.ctx, testGuild, userA, 0, "Quiet")
	require.NoError(t, err)

	require.NoError(t, prefs.SetAccessOverride(h.ctx, testGuild, userA, 0, domain.FeaturePermit, 0, domain.TargetEveryone, false))
	require.NoError(t, prefs.SetAccessOverride(h.ctx, testGuild, userA, 0, domain.FeaturePushToTalk, domain.TargetID(userB), domain.TargetUser, true))
	err = prefs.SetAccessOverride(h.ctx, testGuild, userA, 0, "teleport", domain.TargetID(userB), domain.TargetUser, true)
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)
	err = prefs.SetAccessOverride(h.ctx, testGuild, userA, 0, domain.FeaturePermit, 0, domain.TargetRole, true)
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)

	settings, err := prefs.Settings(h.ctx, testGuild, userA, 0)
	require.NoError(t, err)
	require.NotNil(t, settings.Preference)
	assert.Equal(t, "Quiet", settings.Preference.Name)
	assert.Equal(t, 3, *settings.Preference.UserLimit)
	require.Len(t, settings.Overrides, 2)
	assert.Equal(t, domain.TargetID(testGuild), settings.Overrides[0].TargetID)

	require.NoError(t, prefs.RemoveAccessOverride(h.ctx, testGuild, userA, 0, domain.FeaturePushToTalk, domain.TargetID(userB), domain.TargetUser))
	overrides, err := h.store.AccessOverrides(h.ctx, scope)
	require.NoError(t, err)
	assert.Len(t, overrides, 1)

	report, err := prefs.Reset(h.ctx, testGuild, userA, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Preferences)
	assert.Equal(t, int64(1), report.Overrides)

	settings, err = prefs.Settings(h.ctx, testGuild, userA, 0)
	require.NoError(t, err)
	assert.Nil(t, settings.Preference)
	assert.Empty(t, settings.Overrides)
}

func TestPreferencesService_PurgeUser(t *testing.T) {
	h := newHarness(t)
	prefs := NewPreferencesService(h.store, h.config, nil, h.manager.logger)
	h.provision(userA)

	_, err := prefs.SetLocked(h.ctx, testGuild, userA, 0, true)
	require.NoError(t, err)

	report, err := prefs.PurgeUser(h.ctx, testGuild, userA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Preferences)
	assert.Equal(t, int64(1), report.Cooldowns)
}

func TestSweeper_PrunesAndSchedulesEmptyRooms(t *testing.T) {
	h := newHarness(t)
	h.slowCleanup()
	roomID := h.provision(userA)
	busy := h.provision(userB)

	old := domain.Scope{GuildID: testGuild, TriggerID: testTrigger, UserID: userC}
	require.NoError(t, h.store.UpsertCooldown(h.ctx, domain.Cooldown{Scope: old, LastProvisioned: h.clock.Now().Add(-48 * time.Hour)}))
	h.platform.Join(testGuild, userA, 0)

	s := NewSweeper(h.manager, time.Minute, 24*time.Hour, h.manager.logger)
	pruned, scheduled := s.Sweep(h.ctx)
	assert.Equal(t, int64(1), pruned)
	assert.Equal(t, 1, scheduled)
	assert.True(t, h.manager.Cleanup().Pending(roomID))
	assert.False(t, h.manager.Cleanup().Pending(busy))

	_, scheduled = s.Sweep(h.ctx)
	assert.Zero(t, scheduled)
}
