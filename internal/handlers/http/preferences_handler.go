package http

import (
	"context"
	"net/http"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
	"voicerooms/internal/core/services"

	"github.com/gin-gonic/gin"
)

// PreferenceEditor is implemented by *services.PreferencesService.
type PreferenceEditor interface {
	Settings(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID) (*services.UserSettings, error)
	SetName(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, name string) (*domain.Preference, error)
	SetUserLimit(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, limit *int) (*domain.Preference, error)
	SetLocked(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, locked bool) (*domain.Preference, error)
	SetAccessOverride(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, feature domain.Feature, target domain.TargetID, typ domain.TargetType, enabled bool) error
	RemoveAccessOverride(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID, feature domain.Feature, target domain.TargetID, typ domain.TargetType) error
	Reset(ctx context.Context, guildID domain.GuildID, userID domain.UserID, triggerID domain.ChannelID) (ports.PurgeReport, error)
	PurgeUser(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (ports.PurgeReport, error)
}

type PreferencesHandler struct {
	prefs PreferenceEditor
}

func NewPreferencesHandler(prefs PreferenceEditor) *PreferencesHandler {
	return &PreferencesHandler{prefs: prefs}
}

// SetupRoutes registers routes on a /guilds/:guild group.
func (h *PreferencesHandler) SetupRoutes(guild *gin.RouterGroup) {
	user := guild.Group("/users/:user")
	{
		user.GET("/preferences", h.Get)
		user.PUT("/preferences/name", h.SetName)
		user.PUT("/preferences/limit", h.SetLimit)
		user.PUT("/preferences/lock", h.SetLock)
		user.PUT("/preferences/overrides", h.SetOverride)
		user.DELETE("/preferences/overrides", h.RemoveOverride)
		user.DELETE("/preferences", h.Reset)
		user.DELETE("", h.Purge)
	}
}

// scope reads the guild and user path params and the optional trigger.
func scope(c *gin.Context, rawTrigger string) (domain.GuildID, domain.UserID, domain.ChannelID, bool) {
	guildID, ok := guildParam(c)
	if !ok {
		return 0, 0, 0, false
	}
	userID, ok := userParam(c)
	if !ok {
		return 0, 0, 0, false
	}
	triggerID, ok := optionalSnowflake(c, "trigger_id", rawTrigger)
	if !ok {
		return 0, 0, 0, false
	}
	return guildID, userID, domain.ChannelID(triggerID), true
}

func (h *PreferencesHandler) Get(c *gin.Context) {
	guildID, userID, triggerID, ok := scope(c, c.Query("trigger_id"))
	if !ok {
		return
	}

	settings, err := h.prefs.Settings(c.Request.Context(), guildID, userID, triggerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

type SetNameRequest struct {
	TriggerID string `json:"trigger_id"`
	Name      string `json:"name" binding:"max=100"`
}

func (h *PreferencesHandler) SetName(c *gin.Context) {
	var req SetNameRequest
	if !bindJSON(c, &req) {
		return
	}
	guildID, userID, triggerID, ok := scope(c, req.TriggerID)
	if !ok {
		return
	}

	pref, err := h.prefs.SetName(c.Request.Context(), guildID, userID, triggerID, req.Name)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preference": pref})
}

type SetLimitRequest struct {
	TriggerID string `json:"trigger_id"`
	// UserLimit null restores the trigger channel's limit.
	UserLimit *int `json:"user_limit"`
}

func (h *PreferencesHandler) SetLimit(c *gin.Context) {
	var req SetLimitRequest
	if !bindJSON(c, &req) {
		return
	}
	guildID, userID, triggerID, ok := scope(c, req.TriggerID)
	if !ok {
		return
	}

	pref, err := h.prefs.SetUserLimit(c.Request.Context(), guildID, userID, triggerID, req.UserLimit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preference": pref})
}

type SetLockRequest struct {
	TriggerID string `json:"trigger_id"`
	Locked    bool   `json:"locked"`
}

func (h *PreferencesHandler) SetLock(c *gin.Context) {
	var req SetLockRequest
	if !bindJSON(c, &req) {
		return
	}
	guildID, userID, triggerID, ok := scope(c, req.TriggerID)
	if !ok {
		return
	}

	pref, err := h.prefs.SetLocked(c.Request.Context(), guildID, userID, triggerID, req.Locked)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preference": pref})
}

type OverrideRequest struct {
	TriggerID  string `json:"trigger_id"`
	Feature    string `json:"feature" binding:"required"`
	TargetID   string `json:"target_id"`
	TargetType string `json:"target_type" binding:"required"`
	Enabled    bool   `json:"enabled"`
}

func (h *PreferencesHandler) SetOverride(c *gin.Context) {
	var req OverrideRequest
	if !bindJSON(c, &req) {
		return
	}
	guildID, userID, triggerID, ok := scope(c, req.TriggerID)
	if !ok {
		return
	}
	target, ok := optionalSnowflake(c, "target_id", req.TargetID)
	if !ok {
		return
	}

	err := h.prefs.SetAccessOverride(c.Request.Context(), guildID, userID, triggerID,
		domain.Feature(req.Feature), domain.TargetID(target), domain.TargetType(req.TargetType), req.Enabled)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *PreferencesHandler) RemoveOverride(c *gin.Context) {
	guildID, userID, triggerID, ok := scope(c, c.Query("trigger_id"))
	if !ok {
		return
	}
	target, ok := optionalSnowflake(c, "target_id", c.Query("target_id"))
	if !ok {
		return
	}

	err := h.prefs.RemoveAccessOverride(c.Request.Context(), guildID, userID, triggerID,
		domain.Feature(c.Query("feature")), domain.TargetID(target), domain.TargetType(c.Query("target_type")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (h *PreferencesHandler) Reset(c *gin.Context) {
	guildID, userID, triggerID, ok := scope(c, c.Query("trigger_id"))
	if !ok {
		return
	}

	report, err := h.prefs.Reset(c.Request.Context(), guildID, userID, triggerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": report})
}

func (h *PreferencesHandler) Purge(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	userID, ok := userParam(c)
	if !ok {
		return
	}

	report, err := h.prefs.PurgeUser(c.Request.Context(), guildID, userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": report})
}
