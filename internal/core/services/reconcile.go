package services

import (
	"context"
	"fmt"
	"sync"

	"voicerooms/internal/core/domain"
	"voicerooms/pkg/tracing"

	"go.uber.org/zap"
)

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Kept        int `json:"kept"`
	Cleaned     int `json:"cleaned"`
	Gone        int `json:"gone"`
	Deferred    int `json:"deferred"`
	Provisioned int `json:"provisioned"`
	Failed      int `json:"failed"`
}

// Reconciler rebuilds the managed room set from persisted rooms and the live
// platform state. It runs once at startup, after the platform state has
// been loaded, and on demand from the admin API.
type Reconciler struct {
	manager *LifecycleManager
	logger  *zap.SugaredLogger
	startup sync.Once
}

func NewReconciler(manager *LifecycleManager, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{manager: manager, logger: logger}
}

// RunAtStartup runs the first reconciliation pass. Later calls, such as a
// gateway adapter reconnecting, do nothing.
func (r *Reconciler) RunAtStartup(ctx context.Context) {
	r.startup.Do(func() {
		if _, err := r.Run(ctx); err != nil {
			r.logger.Errorw("startup reconciliation failed", "error", err)
		}
	})
}

func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.StartSpan(ctx, "rooms.reconcile")
	defer span.End()

	m := r.manager
	start := m.now()

	rooms, err := m.store.ActiveRooms(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("load active rooms: %w", err)
	}

	report := &ReconcileReport{}
	for _, room := range rooms {
		r.reconcileRoom(ctx, *room, report)
	}

	if err := r.provisionParked(ctx, report); err != nil {
		r.logger.Errorw("failed to scan trigger channels", "error", err)
	}

	took := m.now().Sub(start)
	m.metrics.Reconciled(report.Kept, report.Cleaned, report.Gone, took)
	m.metrics.ManagedRooms(m.rooms.Len())

	r.logger.Infow("reconciliation finished",
		"rooms", len(rooms),
		"kept", report.Kept,
		"cleaned", report.Cleaned,
		"gone", report.Gone,
		"deferred", report.Deferred,
		"provisioned", report.Provisioned,
		"failed", report.Failed,
		"took", took,
	)
	return report, nil
}

func (r *Reconciler) reconcileRoom(ctx context.Context, room domain.Room, report *ReconcileReport) {
	m := r.manager

	pr, outcome, err := m.lookupRoom(ctx, room.GuildID, room.RoomID)
	if err != nil {
		r.logger.Warnw("room lookup failed during reconciliation",
			"guild_id", room.GuildID,
			"room_id", room.RoomID,
			"error", err,
		)
		m.rooms.Put(room, domain.RoomPendingCleanup)
		m.scheduleCleanup(room)
		report.Deferred++
		return
	}

	switch outcome {
	case domain.FetchNotFound:
		m.finalize(ctx, room, domain.DeleteNotFound)
		report.Gone++
		return
	case domain.FetchForbidden:
		m.finalize(ctx, room, domain.DeleteForbidden)
		report.Gone++
		return
	}

	if !pr.Empty() {
		m.rooms.Put(room, domain.RoomActive)
		if err := m.applyPermissions(ctx, room); err != nil {
			r.logger.Warnw("failed to reapply permissions",
				"guild_id", room.GuildID,
				"room_id", room.RoomID,
				"user_id", room.OwnerID,
				"error", err,
			)
		}
		report.Kept++
		return
	}

	m.rooms.Put(room, domain.RoomPendingCleanup)
	if m.config.StartupCleanupMode(ctx, room.GuildID) == domain.CleanupImmediate {
		if m.deleteRoom(ctx, room) {
			report.Cleaned++
		} else {
			report.Deferred++
		}
		return
	}
	m.scheduleCleanup(room)
	report.Deferred++
}

// provisionParked runs normal provisioning for members already sitting in a
// trigger channel.
func (r *Reconciler) provisionParked(ctx context.Context, report *ReconcileReport) error {
	m := r.manager

	guilds, err := m.store.TriggerGuilds(ctx)
	if err != nil {
		return err
	}

	for _, guildID := range guilds {
		triggers, err := m.config.TriggerChannels(ctx, guildID)
		if err != nil {
			r.logger.Warnw("failed to load trigger channels", "guild_id", guildID, "error", err)
			continue
		}
		for _, trigger := range triggers {
			pr, outcome, err := m.lookupRoom(ctx, guildID, trigger.ChannelID)
			if err != nil || outcome != domain.FetchFound {
				r.logger.Warnw("trigger channel unavailable",
					"guild_id", guildID,
					"trigger_id", trigger.ChannelID,
					"outcome", outcome.String(),
					"error", err,
				)
				continue
			}
			for _, userID := range append([]domain.UserID(nil), pr.Members...) {
				if _, err := m.Provision(ctx, guildID, trigger.ChannelID, userID); err != nil {
					if _, rejected := domain.AsRejection(err); !rejected {
						report.Failed++
					}
					r.logger.Warnw("failed to provision parked member",
						"guild_id", guildID,
						"trigger_id", trigger.ChannelID,
						"user_id", userID,
						"error", err,
					)
					continue
				}
				report.Provisioned++
			}
		}
	}
	return nil
}
