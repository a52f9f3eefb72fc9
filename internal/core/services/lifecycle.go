package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
	"voicerooms/pkg/tracing"

	"go.uber.org/zap"
)

type LifecycleConfig struct {
	// CleanupDelay is how long a room waits before an empty-room re-check.
	CleanupDelay time.Duration
}

type LifecycleDeps struct {
	Store    ports.Store
	Platform ports.Platform
	Config   ports.GuildConfig
	Guard    ports.ProvisionGuard
	Events   ports.EventPublisher
	Metrics  ports.Metrics
	Logger   *zap.SugaredLogger
}

// LifecycleManager provisions, tracks and tears down voice rooms.
type LifecycleManager struct {
	store    ports.Store
	platform ports.Platform
	config   ports.GuildConfig
	guard    ports.ProvisionGuard
	events   ports.EventPublisher
	metrics  ports.Metrics
	logger   *zap.SugaredLogger

	resolver *Resolver
	rooms    *ManagedRooms
	cleanup  *CleanupScheduler
	now      func() time.Time
}

var _ ports.RoomService = (*LifecycleManager)(nil)

func NewLifecycleManager(deps LifecycleDeps, cfg LifecycleConfig) *LifecycleManager {
	if deps.Events == nil {
		deps.Events = NopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}

	m := &LifecycleManager{
		store:    deps.Store,
		platform: deps.Platform,
		config:   deps.Config,
		guard:    deps.Guard,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		resolver: NewResolver(deps.Store, deps.Platform, deps.Logger),
		rooms:    NewManagedRooms(),
		now:      time.Now,
	}
	m.cleanup = NewCleanupScheduler(cfg.CleanupDelay, m.recheck)
	return m
}

func (m *LifecycleManager) Rooms() *ManagedRooms { return m.rooms }

func (m *LifecycleManager) Cleanup() *CleanupScheduler { return m.cleanup }

func (m *LifecycleManager) Resolver() *Resolver { return m.resolver }

// Close stops pending delayed cleanups.
func (m *LifecycleManager) Close() {
	m.cleanup.Stop()
}

// HandleVoiceStateUpdate reacts to a member moving between voice channels.
// Work started here runs to completion even if ctx is cancelled.
func (m *LifecycleManager) HandleVoiceStateUpdate(ctx context.Context, u domain.VoiceStateUpdate) {
	ctx = context.WithoutCancel(ctx)
	if u.Before == u.After {
		return
	}

	if u.Before != 0 {
		m.handleLeft(ctx, u.GuildID, u.Before)
	}
	if u.After == 0 {
		return
	}

	if _, err := m.triggerChannel(ctx, u.GuildID, u.After); err == nil {
		if _, err := m.Provision(ctx, u.GuildID, u.After, u.UserID); err != nil {
			if rej, ok := domain.AsRejection(err); ok {
				m.logger.Infow("provisioning rejected",
					"guild_id", u.GuildID,
					"trigger_id", u.After,
					"user_id", u.UserID,
					"reason", rej.Reason,
					"retry_after", rej.RetryAfter,
					"in_flight", rej.InFlight,
				)
				return
			}
			m.logger.Errorw("provisioning failed",
				"guild_id", u.GuildID,
				"trigger_id", u.After,
				"user_id", u.UserID,
				"error", err,
			)
		}
		return
	}

	m.handleEntered(ctx, u.GuildID, u.After)
}

func (m *LifecycleManager) handleEntered(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID) {
	mr, ok := m.rooms.Get(roomID)
	if !ok || mr.GuildID != guildID {
		return
	}
	m.cleanup.Cancel(roomID)
	m.rooms.SetStatus(roomID, domain.RoomActive)

	now := m.now()
	m.rooms.Touch(roomID, now)
	if err := m.store.TouchRoom(ctx, roomID, now); err != nil {
		m.logger.Warnw("failed to record room activity", "guild_id", guildID, "room_id", roomID, "error", err)
	}
}

func (m *LifecycleManager) handleLeft(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID) {
	mr, ok := m.rooms.Get(roomID)
	if !ok || mr.GuildID != guildID {
		return
	}
	m.checkRoom(ctx, mr.Room)
}

func (m *LifecycleManager) triggerChannel(ctx context.Context, guildID domain.GuildID, channelID domain.ChannelID) (*domain.TriggerChannel, error) {
	triggers, err := m.config.TriggerChannels(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load trigger channels: %w", err)
	}
	for i := range triggers {
		if triggers[i].ChannelID == channelID {
			return &triggers[i], nil
		}
	}
	return nil, domain.ErrTriggerNotFound
}

func (m *LifecycleManager) cooldownRemaining(ctx context.Context, scope domain.Scope) (time.Duration, error) {
	window := time.Duration(m.config.CooldownSeconds(ctx, scope.GuildID)) * time.Second
	if window <= 0 {
		return 0, nil
	}
	cd, err := m.store.Cooldown(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("load cooldown: %w", err)
	}
	if cd == nil {
		return 0, nil
	}
	return cd.Remaining(m.now(), window), nil
}

// ProvisionIsAllowed reports whether a trigger by userID would currently be
// accepted, and the rejection reason if not.
func (m *LifecycleManager) ProvisionIsAllowed(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID, userID domain.UserID) (bool, string) {
	if _, err := m.triggerChannel(ctx, guildID, triggerID); err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			return false, string(domain.RejectNotTrigger)
		}
		return false, err.Error()
	}
	scope := domain.Scope{GuildID: guildID, TriggerID: triggerID, UserID: userID}
	left, err := m.cooldownRemaining(ctx, scope)
	if err != nil {
		return false, err.Error()
	}
	if left > 0 || m.guard.IsInProgress(ctx, guildID, userID) {
		return false, string(domain.RejectCooldown)
	}
	return true, ""
}

func (m *LifecycleManager) reject(reason domain.RejectReason, retryAfter time.Duration, inFlight bool) error {
	m.metrics.ProvisionRejected(reason)
	return &domain.RejectionError{Reason: reason, RetryAfter: retryAfter, InFlight: inFlight}
}

// Provision creates a new room for userID from triggerID and moves the member
// into it. An existing room of the user never satisfies the request.
func (m *LifecycleManager) Provision(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID, userID domain.UserID) (*domain.Room, error) {
	start := m.now()
	ctx, span := tracing.TraceRoomOperation(ctx, "provision", uint64(guildID), uint64(userID))
	defer span.End()

	room, err := m.provision(ctx, guildID, triggerID, userID)
	if err != nil {
		if _, ok := domain.AsRejection(err); !ok {
			m.metrics.ProvisionFailed()
			tracing.RecordError(ctx, err)
		}
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.ID(tracing.RoomIDKey, uint64(room.RoomID)))
	m.metrics.RoomProvisioned(guildID, m.now().Sub(start))
	return room, nil
}

func (m *LifecycleManager) provision(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID, userID domain.UserID) (*domain.Room, error) {
	trigger, err := m.triggerChannel(ctx, guildID, triggerID)
	if errors.Is(err, domain.ErrTriggerNotFound) {
		return nil, m.reject(domain.RejectNotTrigger, 0, false)
	}
	if err != nil {
		return nil, err
	}

	scope := domain.Scope{GuildID: guildID, TriggerID: triggerID, UserID: userID}
	left, err := m.cooldownRemaining(ctx, scope)
	if err != nil {
		return nil, err
	}
	if left > 0 {
		return nil, m.reject(domain.RejectCooldown, left, false)
	}
	if m.guard.IsInProgress(ctx, guildID, userID) {
		return nil, m.reject(domain.RejectCooldown, 0, true)
	}

	token, err := m.guard.MarkInProgress(ctx, guildID, userID)
	if err != nil {
		m.logger.Warnw("failed to set in-progress marker", "guild_id", guildID, "user_id", userID, "error", err)
	}
	defer m.guard.ClearInProgress(ctx, guildID, userID, token)

	release, err := m.guard.Acquire(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("acquire provisioning guard: %w", err)
	}
	defer release()

	// A concurrent attempt may have finished while we waited.
	if left, err = m.cooldownRemaining(ctx, scope); err != nil {
		return nil, err
	}
	if left > 0 {
		return nil, m.reject(domain.RejectCooldown, left, false)
	}

	member, err := m.platform.Member(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("load member %d: %w", userID, err)
	}
	res, err := m.resolver.Resolve(ctx, guildID, triggerID, member)
	if err != nil {
		return nil, fmt.Errorf("resolve settings: %w", err)
	}

	created, err := m.platform.CreateRoom(ctx, domain.RoomSpec{
		GuildID:    guildID,
		CategoryID: trigger.CategoryID,
		Name:       res.Name,
		UserLimit:  res.UserLimit,
		Overwrites: withOwnerGrant(res.Overwrites, userID),
	})
	if errors.Is(err, domain.ErrPlatformForbidden) {
		return nil, m.reject(domain.RejectMissingPermissions, 0, false)
	}
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	now := m.now()
	room := domain.Room{
		GuildID:      guildID,
		TriggerID:    triggerID,
		OwnerID:      userID,
		RoomID:       created.ID,
		CreatedAt:    now,
		LastActivity: now,
	}
	live := []domain.ChannelID{created.ID}
	for _, owned := range m.rooms.Owned(guildID, triggerID, userID) {
		live = append(live, owned.RoomID)
	}
	if err := m.store.CreateRoom(ctx, &room, live); err != nil {
		m.deleteOrphan(ctx, guildID, created.ID, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	m.rooms.Put(room, domain.RoomProvisioning)
	m.logger.Infow("room provisioned",
		"guild_id", guildID,
		"trigger_id", triggerID,
		"user_id", userID,
		"room_id", room.RoomID,
		"name", res.Name,
		"user_limit", res.UserLimit,
		"locked", res.Locked,
		"overwrites", len(res.Overwrites),
	)

	if err := m.platform.MoveMember(ctx, guildID, userID, room.RoomID); err != nil {
		// The member left before the move; the room may already be empty.
		m.logger.Warnw("failed to move member into new room",
			"guild_id", guildID,
			"user_id", userID,
			"room_id", room.RoomID,
			"error", err,
		)
		m.scheduleCleanup(room)
	} else {
		m.rooms.SetStatus(room.RoomID, domain.RoomActive)
	}
	m.metrics.ManagedRooms(m.rooms.Len())

	m.publish(ctx, domain.RoomEvent{
		Type:      domain.EventRoomCreated,
		GuildID:   guildID,
		TriggerID: triggerID,
		RoomID:    room.RoomID,
		OwnerID:   userID,
		Timestamp: now,
	})
	return &room, nil
}

// deleteOrphan removes a platform room whose record could not be stored.
func (m *LifecycleManager) deleteOrphan(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID, cause error) {
	outcome, err := m.platform.DeleteRoom(ctx, guildID, roomID)
	if err != nil {
		m.logger.Errorw("failed to delete orphaned room",
			"guild_id", guildID,
			"room_id", roomID,
			"persist_error", cause,
			"error", err,
		)
		return
	}
	m.logger.Warnw("deleted orphaned room after persistence failure",
		"guild_id", guildID,
		"room_id", roomID,
		"outcome", outcome.String(),
		"persist_error", cause,
	)
}

// lookupRoom answers from the gateway cache first, then the remote API.
func (m *LifecycleManager) lookupRoom(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID) (*domain.PlatformRoom, domain.FetchOutcome, error) {
	if room, ok := m.platform.CachedRoom(guildID, roomID); ok {
		return room, domain.FetchFound, nil
	}
	return m.platform.FetchRoom(ctx, guildID, roomID)
}

// checkRoom deletes room if it is empty and converges local state when it is
// gone. Lookup failures defer the decision to a delayed re-check.
func (m *LifecycleManager) checkRoom(ctx context.Context, room domain.Room) {
	pr, outcome, err := m.lookupRoom(ctx, room.GuildID, room.RoomID)
	if err != nil {
		m.logger.Warnw("room lookup failed, deferring cleanup",
			"guild_id", room.GuildID,
			"room_id", room.RoomID,
			"error", err,
		)
		m.scheduleCleanup(room)
		return
	}

	switch outcome {
	case domain.FetchNotFound:
		m.finalize(ctx, room, domain.DeleteNotFound)
		return
	case domain.FetchForbidden:
		m.logger.Warnw("room no longer visible, releasing it", "guild_id", room.GuildID, "room_id", room.RoomID)
		m.finalize(ctx, room, domain.DeleteForbidden)
		return
	}

	if !pr.Empty() {
		m.cleanup.Cancel(room.RoomID)
		m.rooms.SetStatus(room.RoomID, domain.RoomActive)
		return
	}
	m.deleteRoom(ctx, room)
}

// recheck is the delayed cleanup callback.
func (m *LifecycleManager) recheck(ctx context.Context, guildID domain.GuildID, roomID domain.ChannelID) {
	mr, ok := m.rooms.Get(roomID)
	if ok {
		m.checkRoom(ctx, mr.Room)
		return
	}
	room, err := m.store.RoomByID(ctx, roomID)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			m.logger.Errorw("delayed cleanup could not load room", "guild_id", guildID, "room_id", roomID, "error", err)
		}
		return
	}
	if room.Active {
		m.checkRoom(ctx, *room)
	}
}

func (m *LifecycleManager) scheduleCleanup(room domain.Room) {
	m.rooms.SetStatus(room.RoomID, domain.RoomPendingCleanup)
	if m.cleanup.Schedule(room.GuildID, room.RoomID) {
		m.logger.Debugw("delayed cleanup scheduled", "guild_id", room.GuildID, "room_id", room.RoomID)
	}
}

// deleteRoom removes an empty room. It reports whether local state converged;
// false means a delayed re-check was scheduled instead.
func (m *LifecycleManager) deleteRoom(ctx context.Context, room domain.Room) bool {
	m.rooms.SetStatus(room.RoomID, domain.RoomPendingCleanup)

	outcome, err := m.platform.DeleteRoom(ctx, room.GuildID, room.RoomID)
	if err != nil {
		m.logger.Warnw("room delete failed, deferring cleanup",
			"guild_id", room.GuildID,
			"room_id", room.RoomID,
			"error", err,
		)
		m.scheduleCleanup(room)
		return false
	}

	switch outcome {
	case domain.DeleteNotFound:
		m.logger.Infow("room already deleted", "guild_id", room.GuildID, "room_id", room.RoomID)
	case domain.DeleteForbidden:
		m.logger.Warnw("missing permissions to delete room, marking inactive", "guild_id", room.GuildID, "room_id", room.RoomID)
	}
	return m.finalize(ctx, room, outcome)
}

// finalize marks a room inactive and stops tracking it.
func (m *LifecycleManager) finalize(ctx context.Context, room domain.Room, outcome domain.DeleteOutcome) bool {
	if err := m.store.DeactivateRoom(ctx, room.RoomID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		m.logger.Errorw("failed to deactivate room",
			"guild_id", room.GuildID,
			"room_id", room.RoomID,
			"error", err,
		)
		m.scheduleCleanup(room)
		return false
	}

	m.cleanup.Cancel(room.RoomID)
	m.rooms.Remove(room.RoomID)
	m.metrics.RoomDeleted(outcome)
	m.metrics.ManagedRooms(m.rooms.Len())
	m.logger.Infow("room cleaned up",
		"guild_id", room.GuildID,
		"room_id", room.RoomID,
		"owner_id", room.OwnerID,
		"outcome", outcome.String(),
	)

	m.publish(ctx, domain.RoomEvent{
		Type:      domain.EventRoomDeleted,
		GuildID:   room.GuildID,
		TriggerID: room.TriggerID,
		RoomID:    room.RoomID,
		OwnerID:   room.OwnerID,
		Timestamp: m.now(),
	})
	return true
}

func (m *LifecycleManager) publish(ctx context.Context, event domain.RoomEvent) {
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warnw("failed to publish room event",
			"type", event.Type,
			"guild_id", event.GuildID,
			"room_id", event.RoomID,
			"error", err,
		)
	}
}

// ListManagedRooms returns the tracked rooms of a guild.
func (m *LifecycleManager) ListManagedRooms(guildID domain.GuildID) []domain.ManagedRoom {
	return m.rooms.ByGuild(guildID)
}

// applyPermissions recomputes and pushes the overwrites of a room for its
// current owner.
func (m *LifecycleManager) applyPermissions(ctx context.Context, room domain.Room) error {
	member, err := m.platform.Member(ctx, room.GuildID, room.OwnerID)
	if err != nil {
		if !errors.Is(err, domain.ErrMemberNotFound) {
			return fmt.Errorf("load owner: %w", err)
		}
		member = &domain.Member{GuildID: room.GuildID, UserID: room.OwnerID}
	}
	res, err := m.resolver.Resolve(ctx, room.GuildID, room.TriggerID, member)
	if err != nil {
		return err
	}
	return m.platform.EditRoom(ctx, room.GuildID, room.RoomID, domain.RoomEdit{
		Overwrites: withOwnerGrant(res.Overwrites, room.OwnerID),
	})
}

// ApplySettings re-resolves and pushes the setup of every live room the
// scope's user owns under the scope's trigger.
func (m *LifecycleManager) ApplySettings(ctx context.Context, scope domain.Scope) error {
	owned := m.rooms.Owned(scope.GuildID, scope.TriggerID, scope.UserID)
	if len(owned) == 0 {
		return nil
	}
	member, err := m.platform.Member(ctx, scope.GuildID, scope.UserID)
	if err != nil {
		return fmt.Errorf("load member %d: %w", scope.UserID, err)
	}
	res, err := m.resolver.Resolve(ctx, scope.GuildID, scope.TriggerID, member)
	if err != nil {
		return err
	}

	var errs []error
	for _, mr := range owned {
		name, limit := res.Name, res.UserLimit
		err := m.platform.EditRoom(ctx, mr.GuildID, mr.RoomID, domain.RoomEdit{
			Name:       &name,
			UserLimit:  &limit,
			Overwrites: withOwnerGrant(res.Overwrites, mr.OwnerID),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("room %d: %w", mr.RoomID, err))
		}
	}
	return errors.Join(errs...)
}
