package http

import (
	"context"
	"net/http"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
	"voicerooms/internal/core/services"
	"voicerooms/pkg/errors"

	"github.com/gin-gonic/gin"
)

// GuildSettingsService is the guild configuration the admin API edits.
type GuildSettingsService interface {
	TriggerChannels(ctx context.Context, guildID domain.GuildID) ([]domain.TriggerChannel, error)
	Settings(ctx context.Context, guildID domain.GuildID) domain.GuildSettings
	SetGuildSettings(ctx context.Context, settings domain.GuildSettings) error
}

type ReconcileRunner interface {
	Run(ctx context.Context) (*services.ReconcileReport, error)
}

type RoomHandler struct {
	rooms      ports.RoomService
	guilds     GuildSettingsService
	reconciler ReconcileRunner
}

func NewRoomHandler(rooms ports.RoomService, guilds GuildSettingsService, reconciler ReconcileRunner) *RoomHandler {
	return &RoomHandler{
		rooms:      rooms,
		guilds:     guilds,
		reconciler: reconciler,
	}
}

// SetupRoutes registers guild scoped routes on a /guilds/:guild group.
func (h *RoomHandler) SetupRoutes(guild *gin.RouterGroup) {
	guild.GET("/rooms", h.ListRooms)
	guild.POST("/rooms/claim", h.Claim)
	guild.POST("/rooms/transfer", h.Transfer)
	guild.GET("/provision-check", h.ProvisionCheck)

	guild.GET("/triggers", h.ListTriggers)
	guild.POST("/triggers", h.AddTrigger)
	guild.DELETE("/triggers/:channel", h.RemoveTrigger)

	guild.GET("/settings", h.GetGuildSettings)
	guild.PUT("/settings", h.UpdateGuildSettings)

	guild.DELETE("", h.PurgeGuild)
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}

	rooms := h.rooms.ListManagedRooms(guildID)
	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

type ClaimRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *RoomHandler) Claim(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	var req ClaimRequest
	if !bindJSON(c, &req) {
		return
	}
	userID, ok := snowflake(c, "user_id", req.UserID)
	if !ok {
		return
	}

	room, err := h.rooms.Claim(c.Request.Context(), guildID, domain.UserID(userID))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

type TransferRequest struct {
	FromUserID string `json:"from_user_id" binding:"required"`
	ToUserID   string `json:"to_user_id" binding:"required"`
}

func (h *RoomHandler) Transfer(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	var req TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	from, ok := snowflake(c, "from_user_id", req.FromUserID)
	if !ok {
		return
	}
	to, ok := snowflake(c, "to_user_id", req.ToUserID)
	if !ok {
		return
	}

	room, err := h.rooms.Transfer(c.Request.Context(), guildID, domain.UserID(from), domain.UserID(to))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *RoomHandler) ProvisionCheck(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	triggerID, ok := snowflake(c, "trigger_id", c.Query("trigger_id"))
	if !ok {
		return
	}
	userID, ok := snowflake(c, "user_id", c.Query("user_id"))
	if !ok {
		return
	}

	allowed, reason := h.rooms.ProvisionIsAllowed(c.Request.Context(), guildID, domain.ChannelID(triggerID), domain.UserID(userID))
	body := gin.H{"allowed": allowed}
	if !allowed {
		body["reason"] = reason
	}
	c.JSON(http.StatusOK, body)
}

func (h *RoomHandler) ListTriggers(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}

	triggers, err := h.guilds.TriggerChannels(c.Request.Context(), guildID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": triggers})
}

type AddTriggerRequest struct {
	ChannelID  string `json:"channel_id" binding:"required"`
	CategoryID string `json:"category_id"`
	Position   int    `json:"position" binding:"min=0"`
}

func (h *RoomHandler) AddTrigger(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	var req AddTriggerRequest
	if !bindJSON(c, &req) {
		return
	}
	channelID, ok := snowflake(c, "channel_id", req.ChannelID)
	if !ok {
		return
	}
	categoryID, ok := optionalSnowflake(c, "category_id", req.CategoryID)
	if !ok {
		return
	}

	trigger := domain.TriggerChannel{
		GuildID:    guildID,
		ChannelID:  domain.ChannelID(channelID),
		CategoryID: domain.ChannelID(categoryID),
		Position:   req.Position,
	}
	if err := h.rooms.AddTriggerChannel(c.Request.Context(), trigger); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trigger": trigger})
}

func (h *RoomHandler) RemoveTrigger(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	channelID, ok := snowflake(c, "channel", c.Param("channel"))
	if !ok {
		return
	}

	report, err := h.rooms.RemoveTriggerChannel(c.Request.Context(), guildID, domain.ChannelID(channelID), boolQuery(c, "cascade"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (h *RoomHandler) GetGuildSettings(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": h.guilds.Settings(c.Request.Context(), guildID)})
}

type GuildSettingsRequest struct {
	CooldownSeconds    *int   `json:"cooldown_seconds"`
	StartupCleanupMode string `json:"startup_cleanup_mode"`
}

func (h *RoomHandler) UpdateGuildSettings(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	var req GuildSettingsRequest
	if !bindJSON(c, &req) {
		return
	}

	err := h.guilds.SetGuildSettings(c.Request.Context(), domain.GuildSettings{
		GuildID:            guildID,
		CooldownSeconds:    req.CooldownSeconds,
		StartupCleanupMode: domain.CleanupMode(req.StartupCleanupMode),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": h.guilds.Settings(c.Request.Context(), guildID)})
}

// PurgeGuild wipes every stored row of the guild. It requires ?confirm=true.
func (h *RoomHandler) PurgeGuild(c *gin.Context) {
	guildID, ok := guildParam(c)
	if !ok {
		return
	}
	if !boolQuery(c, "confirm") {
		c.Error(errors.NewInvalidInputError("purging a guild requires confirm=true"))
		return
	}

	report, err := h.rooms.PurgeGuild(c.Request.Context(), guildID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// Reconcile runs a reconciliation pass on demand.
func (h *RoomHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
