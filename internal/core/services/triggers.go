package services

import (
	"context"
	"fmt"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
)

// invalidator is implemented by guild config caches.
type invalidator interface {
	Invalidate(guildID domain.GuildID)
}

func (m *LifecycleManager) invalidateConfig(guildID domain.GuildID) {
	if inv, ok := m.config.(invalidator); ok {
		inv.Invalidate(guildID)
	}
}

func (m *LifecycleManager) AddTriggerChannel(ctx context.Context, trigger domain.TriggerChannel) error {
	if trigger.GuildID == 0 || trigger.ChannelID == 0 {
		return fmt.Errorf("%w: guild and channel ids are required", domain.ErrInvalidTrigger)
	}
	if trigger.Position < 0 {
		return fmt.Errorf("%w: negative position", domain.ErrInvalidTrigger)
	}
	if _, managed := m.rooms.Get(trigger.ChannelID); managed {
		return fmt.Errorf("%w: channel %d is a managed room", domain.ErrInvalidTrigger, trigger.ChannelID)
	}

	if err := m.store.AddTriggerChannel(ctx, trigger); err != nil {
		return err
	}
	m.invalidateConfig(trigger.GuildID)

	m.logger.Infow("trigger channel added",
		"guild_id", trigger.GuildID,
		"trigger_id", trigger.ChannelID,
		"category_id", trigger.CategoryID,
	)
	return nil
}

// RemoveTriggerChannel unregisters a trigger. With cascadeCleanup the scoped
// settings of the trigger are purged and its empty rooms are deleted; rooms
// with members are left alone.
func (m *LifecycleManager) RemoveTriggerChannel(ctx context.Context, guildID domain.GuildID, channelID domain.ChannelID, cascadeCleanup bool) (*ports.RemoveTriggerReport, error) {
	ctx = context.WithoutCancel(ctx)

	if err := m.store.RemoveTriggerChannel(ctx, guildID, channelID); err != nil {
		return nil, err
	}
	m.invalidateConfig(guildID)
	m.logger.Infow("trigger channel removed", "guild_id", guildID, "trigger_id", channelID, "cascade", cascadeCleanup)

	report := &ports.RemoveTriggerReport{}
	if !cascadeCleanup {
		return report, nil
	}

	purged, err := m.store.PurgeScope(ctx, guildID, channelID, nil)
	if err != nil {
		return report, fmt.Errorf("purge trigger settings: %w", err)
	}
	report.Purged = purged

	rooms, err := m.store.ActiveRoomsByTrigger(ctx, guildID, channelID)
	if err != nil {
		return report, fmt.Errorf("load trigger rooms: %w", err)
	}

	for _, room := range rooms {
		if m.releaseIfEmpty(ctx, *room) {
			report.DeletedRooms = append(report.DeletedRooms, room.RoomID)
		} else {
			report.SkippedRooms = append(report.SkippedRooms, room.RoomID)
		}
	}

	m.logger.Infow("trigger cleanup finished",
		"guild_id", guildID,
		"trigger_id", channelID,
		"preferences", purged.Preferences,
		"overrides", purged.Overrides,
		"cooldowns", purged.Cooldowns,
		"deleted_rooms", len(report.DeletedRooms),
		"skipped_rooms", len(report.SkippedRooms),
	)
	return report, nil
}

// PurgeGuild forgets a whole community: triggers, settings, preferences,
// overrides and cooldowns. Empty managed rooms are deleted first; occupied
// ones stop being managed and are left on the platform.
func (m *LifecycleManager) PurgeGuild(ctx context.Context, guildID domain.GuildID) (*ports.PurgeGuildReport, error) {
	ctx = context.WithoutCancel(ctx)
	report := &ports.PurgeGuildReport{}

	for _, mr := range m.rooms.ByGuild(guildID) {
		if m.releaseIfEmpty(ctx, mr.Room) {
			report.DeletedRooms = append(report.DeletedRooms, mr.RoomID)
			continue
		}
		m.cleanup.Cancel(mr.RoomID)
		m.rooms.Remove(mr.RoomID)
		report.UntrackedRooms = append(report.UntrackedRooms, mr.RoomID)
	}
	m.metrics.ManagedRooms(m.rooms.Len())

	if err := m.store.PurgeGuild(ctx, guildID); err != nil {
		return report, fmt.Errorf("purge guild: %w", err)
	}
	m.invalidateConfig(guildID)

	m.logger.Warnw("guild purged",
		"guild_id", guildID,
		"deleted_rooms", len(report.DeletedRooms),
		"untracked_rooms", len(report.UntrackedRooms),
	)
	return report, nil
}

// releaseIfEmpty deletes room when nobody is in it and reports whether the
// room is gone afterwards.
func (m *LifecycleManager) releaseIfEmpty(ctx context.Context, room domain.Room) bool {
	pr, outcome, err := m.lookupRoom(ctx, room.GuildID, room.RoomID)
	if err != nil {
		m.logger.Warnw("room lookup failed, deferring cleanup", "guild_id", room.GuildID, "room_id", room.RoomID, "error", err)
		m.scheduleCleanup(room)
		return false
	}

	switch outcome {
	case domain.FetchNotFound:
		return m.finalize(ctx, room, domain.DeleteNotFound)
	case domain.FetchForbidden:
		return m.finalize(ctx, room, domain.DeleteForbidden)
	}

	if !pr.Empty() {
		m.logger.Infow("leaving occupied room in place",
			"guild_id", room.GuildID,
			"room_id", room.RoomID,
			"members", len(pr.Members),
		)
		return false
	}
	return m.deleteRoom(ctx, room)
}
