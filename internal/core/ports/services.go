package ports

import (
	"context"
	"time"

	"voicerooms/internal/core/domain"
)

// ProvisionGuard serializes provisioning per (guild, user).
type ProvisionGuard interface {
	// Acquire blocks until the section is free and returns its release func.
	Acquire(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (func(), error)
	// MarkInProgress sets the in-flight marker and returns the token that
	// clears it. A later mark replaces the marker and its token.
	MarkInProgress(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (string, error)
	IsInProgress(ctx context.Context, guildID domain.GuildID, userID domain.UserID) bool
	// ClearInProgress removes the marker only while it still carries token.
	ClearInProgress(ctx context.Context, guildID domain.GuildID, userID domain.UserID, token string)
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.RoomEvent) error
}

// Metrics receives lifecycle observations.
type Metrics interface {
	RoomProvisioned(guildID domain.GuildID, took time.Duration)
	ProvisionRejected(reason domain.RejectReason)
	ProvisionFailed()
	RoomDeleted(outcome domain.DeleteOutcome)
	ManagedRooms(count int)
	OwnershipChanged(kind string)
	Reconciled(kept, cleaned, gone int, took time.Duration)
}

// RemoveTriggerReport summarises a trigger removal.
type RemoveTriggerReport struct {
	Purged       PurgeReport        `json:"purged"`
	DeletedRooms []domain.ChannelID `json:"deleted_rooms"`
	SkippedRooms []domain.ChannelID `json:"skipped_rooms"`
}

// RoomService is what command surfaces call.
type RoomService interface {
	HandleVoiceStateUpdate(ctx context.Context, update domain.VoiceStateUpdate)
	ProvisionIsAllowed(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID, userID domain.UserID) (bool, string)
	Claim(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (*domain.Room, error)
	Transfer(ctx context.Context, guildID domain.GuildID, from, to domain.UserID) (*domain.Room, error)
	ListManagedRooms(guildID domain.GuildID) []domain.ManagedRoom
	AddTriggerChannel(ctx context.Context, trigger domain.TriggerChannel) error
	RemoveTriggerChannel(ctx context.Context, guildID domain.GuildID, channelID domain.ChannelID, cascadeCleanup bool) (*RemoveTriggerReport, error)
	PurgeGuild(ctx context.Context, guildID domain.GuildID) (*PurgeGuildReport, error)
}

type PurgeGuildReport struct {
	DeletedRooms   []domain.ChannelID `json:"deleted_rooms"`
	UntrackedRooms []domain.ChannelID `json:"untracked_rooms"`
}
