package ports

import (
	"context"
	"time"

	"voicerooms/internal/core/domain"
)

type RoomRepository interface {
	// CreateRoom inserts room and, in the same transaction, deactivates
	// active rows of the same (guild, trigger, owner) whose room id is not in
	// live, stamps the owner's cooldown with room.CreatedAt and records the
	// trigger as the owner's last used one.
	CreateRoom(ctx context.Context, room *domain.Room, live []domain.ChannelID) error
	RoomByID(ctx context.Context, roomID domain.ChannelID) (*domain.Room, error)
	ActiveRooms(ctx context.Context) ([]*domain.Room, error)
	ActiveRoomsByGuild(ctx context.Context, guildID domain.GuildID) ([]*domain.Room, error)
	ActiveRoomsByTrigger(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID) ([]*domain.Room, error)
	DeactivateRoom(ctx context.Context, roomID domain.ChannelID) error
	TouchRoom(ctx context.Context, roomID domain.ChannelID, at time.Time) error
}

// Lookups of single optional records (Preference, Cooldown, GuildSettings)
// return nil without error when nothing is stored; LastTrigger returns zero.
type PreferenceRepository interface {
	Preference(ctx context.Context, scope domain.Scope) (*domain.Preference, error)
	UpsertPreference(ctx context.Context, pref *domain.Preference) error
	AccessOverrides(ctx context.Context, scope domain.Scope) ([]domain.AccessOverride, error)
	SetAccessOverride(ctx context.Context, override domain.AccessOverride) error
	DeleteAccessOverride(ctx context.Context, scope domain.Scope, feature domain.Feature, target domain.TargetID, targetType domain.TargetType) error
	LastTrigger(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (domain.ChannelID, error)
	SetLastTrigger(ctx context.Context, pref domain.TriggerPreference) error
}

type CooldownRepository interface {
	Cooldown(ctx context.Context, scope domain.Scope) (*domain.Cooldown, error)
	UpsertCooldown(ctx context.Context, cooldown domain.Cooldown) error
	PruneCooldowns(ctx context.Context, before time.Time) (int64, error)
}

type TriggerRepository interface {
	TriggerChannels(ctx context.Context, guildID domain.GuildID) ([]domain.TriggerChannel, error)
	TriggerGuilds(ctx context.Context) ([]domain.GuildID, error)
	AddTriggerChannel(ctx context.Context, trigger domain.TriggerChannel) error
	RemoveTriggerChannel(ctx context.Context, guildID domain.GuildID, channelID domain.ChannelID) error
	GuildSettings(ctx context.Context, guildID domain.GuildID) (*domain.GuildSettings, error)
	UpsertGuildSettings(ctx context.Context, settings domain.GuildSettings) error
}

// TransferParams describes an ownership move of one room.
type TransferParams struct {
	GuildID   domain.GuildID
	TriggerID domain.ChannelID
	RoomID    domain.ChannelID
	From      domain.UserID
	To        domain.UserID
	At        time.Time
}

// PurgeReport counts rows removed by a scoped purge.
type PurgeReport struct {
	Preferences int64 `json:"preferences"`
	Overrides   int64 `json:"overrides"`
	Cooldowns   int64 `json:"cooldowns"`
}

// Store is the transactional persistence layer.
type Store interface {
	RoomRepository
	PreferenceRepository
	CooldownRepository
	TriggerRepository

	// TransferOwnership moves room ownership and the scoped settings of From
	// to To. It either fully succeeds or leaves nothing changed.
	TransferOwnership(ctx context.Context, params TransferParams) error
	// PurgeScope deletes scoped settings of a trigger, optionally for one user.
	PurgeScope(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID, userID *domain.UserID) (PurgeReport, error)
	// PurgeUser deletes every scoped row of a user in a guild.
	PurgeUser(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (PurgeReport, error)
	// PurgeGuild deletes all data of a guild. Only for explicit whole-guild resets.
	PurgeGuild(ctx context.Context, guildID domain.GuildID) error

	Ping(ctx context.Context) error
	Close() error
}
