package services

import (
	"context"
	"errors"
	"fmt"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
	"voicerooms/pkg/tracing"
)

const (
	ownershipClaim    = "claim"
	ownershipTransfer = "transfer"
)

// currentRoom returns the managed room the member is connected to.
func (m *LifecycleManager) currentRoom(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (domain.ManagedRoom, error) {
	member, err := m.platform.Member(ctx, guildID, userID)
	if err != nil {
		return domain.ManagedRoom{}, fmt.Errorf("load member %d: %w", userID, err)
	}
	if member.VoiceChannelID == 0 {
		return domain.ManagedRoom{}, domain.ErrNotInManagedRoom
	}
	mr, ok := m.rooms.Get(member.VoiceChannelID)
	if !ok || mr.GuildID != guildID {
		return domain.ManagedRoom{}, domain.ErrNotInManagedRoom
	}
	return mr, nil
}

func (m *LifecycleManager) presentRoom(ctx context.Context, room domain.Room) (*domain.PlatformRoom, error) {
	pr, outcome, err := m.lookupRoom(ctx, room.GuildID, room.RoomID)
	if err != nil {
		return nil, err
	}
	if outcome != domain.FetchFound {
		m.checkRoom(ctx, room)
		return nil, domain.ErrNotInManagedRoom
	}
	return pr, nil
}

// Claim hands a room whose owner has left to the member calling it.
func (m *LifecycleManager) Claim(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (*domain.Room, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.TraceRoomOperation(ctx, ownershipClaim, uint64(guildID), uint64(userID))
	defer span.End()

	mr, err := m.currentRoom(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	if mr.OwnerID == userID {
		return nil, domain.ErrAlreadyOwner
	}
	pr, err := m.presentRoom(ctx, mr.Room)
	if err != nil {
		return nil, err
	}
	if pr.HasMember(mr.OwnerID) {
		return nil, domain.ErrOwnerPresent
	}

	room, err := m.changeOwner(ctx, mr.Room, userID, ownershipClaim)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return room, err
}

// Transfer hands the room from is connected to over to another member in it.
func (m *LifecycleManager) Transfer(ctx context.Context, guildID domain.GuildID, from, to domain.UserID) (*domain.Room, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.TraceRoomOperation(ctx, ownershipTransfer, uint64(guildID), uint64(from))
	defer span.End()

	if from == to {
		return nil, domain.ErrAlreadyOwner
	}
	mr, err := m.currentRoom(ctx, guildID, from)
	if err != nil {
		return nil, err
	}
	if mr.OwnerID != from {
		return nil, domain.ErrNotRoomOwner
	}
	pr, err := m.presentRoom(ctx, mr.Room)
	if err != nil {
		return nil, err
	}
	if !pr.HasMember(to) {
		return nil, domain.ErrTargetNotInRoom
	}

	room, err := m.changeOwner(ctx, mr.Room, to, ownershipTransfer)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return room, err
}

// changeOwner persists the new owner, then updates memory and the platform.
// A failed permission push is logged; the next reconciliation repairs it.
func (m *LifecycleManager) changeOwner(ctx context.Context, room domain.Room, to domain.UserID, kind string) (*domain.Room, error) {
	from := room.OwnerID
	release, err := m.guard.Acquire(ctx, room.GuildID, from)
	if err != nil {
		return nil, fmt.Errorf("acquire ownership guard: %w", err)
	}
	defer release()

	now := m.now()
	err = m.store.TransferOwnership(ctx, ports.TransferParams{
		GuildID:   room.GuildID,
		TriggerID: room.TriggerID,
		RoomID:    room.RoomID,
		From:      from,
		To:        to,
		At:        now,
	})
	if errors.Is(err, domain.ErrRoomNotFound) {
		// Owner changed or room released while we waited.
		return nil, domain.ErrNotInManagedRoom
	}
	if err != nil {
		return nil, fmt.Errorf("%w: transfer ownership: %w", domain.ErrPersistence, err)
	}

	m.rooms.SetOwner(room.RoomID, to)
	m.rooms.Touch(room.RoomID, now)
	room.OwnerID = to
	room.LastActivity = now

	if err := m.applyPermissions(ctx, room); err != nil {
		m.logger.Warnw("failed to reapply permissions after ownership change",
			"guild_id", room.GuildID,
			"room_id", room.RoomID,
			"user_id", to,
			"error", err,
		)
	}

	m.metrics.OwnershipChanged(kind)
	m.logger.Infow("room ownership changed",
		"guild_id", room.GuildID,
		"room_id", room.RoomID,
		"previous_owner", from,
		"user_id", to,
		"kind", kind,
	)
	m.publish(ctx, domain.RoomEvent{
		Type:          domain.EventOwnerChanged,
		GuildID:       room.GuildID,
		TriggerID:     room.TriggerID,
		RoomID:        room.RoomID,
		OwnerID:       to,
		PreviousOwner: from,
		Timestamp:     now,
	})
	return &room, nil
}
