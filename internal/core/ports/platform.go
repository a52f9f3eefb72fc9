package ports

import (
	"context"

	"voicerooms/internal/core/domain"
)

// Platform is the chat platform client. Implementations report "not found"
// and "forbidden" through outcomes; a returned error means the call failed
// transiently.
type Platform interface {
	CreateRoom(ctx context.Context, spec domain.RoomSpec) (*domain.PlatformRoom, error)
	DeleteRoom(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID) (domain.DeleteOutcome, error)
	MoveMember(ctx context.Context, guildID domain.GuildID, userID domain.UserID, roomID domain.ChannelID) error
	EditRoom(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID, edit domain.RoomEdit) error
	FetchRoom(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID) (*domain.PlatformRoom, domain.FetchOutcome, error)
	// CachedRoom answers from the gateway cache without a remote call.
	CachedRoom(guildID domain.GuildID, roomID domain.ChannelID) (*domain.PlatformRoom, bool)
	Member(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (*domain.Member, error)
	// TargetExists reports whether a role or user still exists in the guild.
	TargetExists(ctx context.Context, guildID domain.GuildID, id domain.TargetID, typ domain.TargetType) (bool, error)
}

// GuildConfig is the configuration subsystem view consumed by the core.
type GuildConfig interface {
	TriggerChannels(ctx context.Context, guildID domain.GuildID) ([]domain.TriggerChannel, error)
	CooldownSeconds(ctx context.Context, guildID domain.GuildID) int
	StartupCleanupMode(ctx context.Context, guildID domain.GuildID) domain.CleanupMode
}
