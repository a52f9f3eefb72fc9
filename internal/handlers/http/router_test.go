package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/services"
	"voicerooms/internal/infrastructure/monitoring"
	"voicerooms/internal/infrastructure/platform/memory"
	"voicerooms/internal/infrastructure/repositories/sqlite"
	"voicerooms/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	guild   domain.GuildID   = 1000
	trigger domain.ChannelID = 2000
	owner   domain.UserID    = 3001
	guest   domain.UserID    = 3002
	secret                   = "0123456789abcdef0123"
)

type apiFixture struct {
	t        *testing.T
	router   *gin.Engine
	platform *memory.Platform
	manager  *services.LifecycleManager
	token    string
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := zap.NewNop().Sugar()

	store, err := sqlite.Open(ctx, ":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.AddTriggerChannel(ctx, domain.TriggerChannel{GuildID: guild, ChannelID: trigger}))

	platform := memory.New()
	platform.AddVoiceChannel(guild, trigger, 4)
	platform.AddMember(guild, owner, "Owner")
	platform.AddMember(guild, guest, "Guest")

	guilds := services.NewGuildConfigService(store, services.GuildConfigDefaults{
		CooldownSeconds:    30,
		StartupCleanupMode: domain.CleanupDelayed,
		CacheTTL:           time.Minute,
	}, log)
	t.Cleanup(guilds.Close)

	manager := services.NewLifecycleManager(services.LifecycleDeps{
		Store:    store,
		Platform: platform,
		Config:   guilds,
		Guard:    services.NewMemoryGuard(time.Minute),
		Logger:   log,
	}, services.LifecycleConfig{CleanupDelay: time.Hour})
	t.Cleanup(manager.Close)

	prefs := services.NewPreferencesService(store, guilds, manager, log)
	reconciler := services.NewReconciler(manager, log)

	checker := monitoring.NewHealthChecker()
	checker.AddStoreCheck(store, time.Minute, time.Second)

	cfg := config.DefaultConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = secret
	auth := services.NewAuthService(secret, cfg.Auth.Issuer, time.Hour)
	token, err := auth.GenerateToken("ops", []domain.GuildID{guild})
	require.NoError(t, err)

	router := NewRouter(RouterDeps{
		Config:      cfg,
		Logger:      log,
		Auth:        auth,
		Rooms:       NewRoomHandler(manager, guilds, reconciler),
		Preferences: NewPreferencesHandler(prefs),
		Health:      NewHealthHandler(checker, time.Now()),
	})

	return &apiFixture{t: t, router: router, platform: platform, manager: manager, token: token}
}

func (f *apiFixture) do(method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

// provisionRoom sends owner through the trigger and returns the new room id.
func (f *apiFixture) provisionRoom() domain.ChannelID {
	f.t.Helper()
	f.manager.HandleVoiceStateUpdate(context.Background(), f.platform.Join(guild, owner, trigger))
	rooms := f.manager.ListManagedRooms(guild)
	require.Len(f.t, rooms, 1)
	return rooms[0].RoomID
}

func TestRouter_HealthAndReady(t *testing.T) {
	f := newFixture(t)
	f.token = ""

	w, body := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", body["status"])

	w, body = f.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestRouter_RequiresScopedToken(t *testing.T) {
	f := newFixture(t)
	token := f.token

	f.token = ""
	w, _ := f.do(http.MethodGet, "/api/v1/guilds/1000/rooms", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.token = token
	w, _ = f.do(http.MethodGet, "/api/v1/guilds/1001/rooms", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := f.do(http.MethodGet, "/api/v1/guilds/1000/rooms", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["count"])
}

func TestRouter_RoomsClaimAndTransfer(t *testing.T) {
	f := newFixture(t)
	roomID := f.provisionRoom()

	w, body := f.do(http.MethodGet, "/api/v1/guilds/1000/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	f.manager.HandleVoiceStateUpdate(context.Background(), f.platform.Join(guild, guest, roomID))

	w, body = f.do(http.MethodPost, "/api/v1/guilds/1000/rooms/claim", gin.H{"user_id": "3002"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", body["error"])

	w, body = f.do(http.MethodPost, "/api/v1/guilds/1000/rooms/transfer", gin.H{"from_user_id": "3002", "to_user_id": "3001"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = f.do(http.MethodPost, "/api/v1/guilds/1000/rooms/transfer", gin.H{"from_user_id": "3001", "to_user_id": "3002"})
	require.Equal(t, http.StatusOK, w.Code, body)
	room := body["room"].(map[string]any)
	assert.EqualValues(t, guest, room["owner_id"])

	w, _ = f.do(http.MethodPost, "/api/v1/guilds/1000/rooms/claim", gin.H{"user_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ProvisionCheck(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(http.MethodGet, "/api/v1/guilds/1000/provision-check?trigger_id=2000&user_id=3001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["allowed"])

	f.provisionRoom()

	w, body = f.do(http.MethodGet, "/api/v1/guilds/1000/provision-check?trigger_id=2000&user_id=3001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, string(domain.RejectCooldown), body["reason"])

	w, _ = f.do(http.MethodGet, "/api/v1/guilds/1000/provision-check?user_id=3001", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Triggers(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(http.MethodPost, "/api/v1/guilds/1000/triggers", gin.H{"channel_id": "2500", "position": 1})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.do(http.MethodPost, "/api/v1/guilds/1000/triggers", gin.H{"channel_id": "2500"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body := f.do(http.MethodGet, "/api/v1/guilds/1000/triggers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["triggers"], 2)

	w, body = f.do(http.MethodDelete, "/api/v1/guilds/1000/triggers/2500?cascade=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, body["report"])

	w, _ = f.do(http.MethodDelete, "/api/v1/guilds/1000/triggers/2500", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Preferences(t *testing.T) {
	f := newFixture(t)
	base := "/api/v1/guilds/1000/users/3001"

	w, body := f.do(http.MethodPut, base+"/preferences/name", gin.H{"name": "Chill Zone"})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, "Chill Zone", body["preference"].(map[string]any)["name"])

	w, _ = f.do(http.MethodPut, base+"/preferences/overrides", gin.H{"feature": "teleport", "target_id": "3002", "target_type": "user", "enabled": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(http.MethodPut, base+"/preferences/overrides", gin.H{"feature": "permit", "target_id": "3002", "target_type": "user", "enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = f.do(http.MethodGet, base+"/preferences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	settings := body["settings"].(map[string]any)
	assert.Len(t, settings["overrides"], 1)
	assert.Equal(t, "Chill Zone", settings["preference"].(map[string]any)["name"])

	w, _ = f.do(http.MethodGet, base+"/preferences?trigger_id=9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = f.do(http.MethodDelete, base+"/preferences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["purged"].(map[string]any)["preferences"])
}

func TestRouter_GuildSettings(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(http.MethodPut, "/api/v1/guilds/1000/settings", gin.H{"cooldown_seconds": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := f.do(http.MethodPut, "/api/v1/guilds/1000/settings", gin.H{"cooldown_seconds": 5, "startup_cleanup_mode": "immediate"})
	require.Equal(t, http.StatusOK, w.Code, body)
	settings := body["settings"].(map[string]any)
	assert.EqualValues(t, 5, settings["cooldown_seconds"])
	assert.Equal(t, "immediate", settings["startup_cleanup_mode"])
}

func TestRouter_Reconcile(t *testing.T) {
	f := newFixture(t)
	f.provisionRoom()

	w, body := f.do(http.MethodPost, "/api/v1/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["report"].(map[string]any)["kept"])
}

func TestRouter_PurgeGuild(t *testing.T) {
	f := newFixture(t)
	roomID := f.provisionRoom()

	w, _ := f.do(http.MethodDelete, "/api/v1/guilds/1000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The owner is still inside, so the room is only untracked.
	w, body := f.do(http.MethodDelete, "/api/v1/guilds/1000?confirm=true", nil)
	require.Equal(t, http.StatusOK, w.Code, body)
	report := body["report"].(map[string]any)
	assert.Equal(t, []any{float64(roomID)}, report["untracked_rooms"])

	w, body = f.do(http.MethodGet, "/api/v1/guilds/1000/triggers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["triggers"])
	assert.Empty(t, f.manager.ListManagedRooms(guild))
}
