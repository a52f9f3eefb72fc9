package services

import (
	"context"
	"time"

	"voicerooms/internal/core/domain"

	"go.uber.org/zap"
)

// Sweeper prunes expired cooldowns and re-checks managed rooms that the
// gateway cache reports as empty.
type Sweeper struct {
	manager   *LifecycleManager
	interval  time.Duration
	retention time.Duration
	logger    *zap.SugaredLogger
}

func NewSweeper(manager *LifecycleManager, interval, retention time.Duration, logger *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		manager:   manager,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of pruned cooldowns and
// scheduled re-checks.
func (s *Sweeper) Sweep(ctx context.Context) (int64, int) {
	m := s.manager

	pruned, err := m.store.PruneCooldowns(ctx, m.now().Add(-s.retention))
	if err != nil {
		s.logger.Warnw("failed to prune cooldowns", "error", err)
	}

	scheduled := 0
	for _, mr := range m.rooms.Snapshot() {
		if mr.Status == domain.RoomProvisioning || m.cleanup.Pending(mr.RoomID) {
			continue
		}
		if mr.Status != domain.RoomPendingCleanup {
			pr, ok := m.platform.CachedRoom(mr.GuildID, mr.RoomID)
			if !ok || !pr.Empty() {
				continue
			}
		}
		m.scheduleCleanup(mr.Room)
		scheduled++
	}

	if pruned > 0 || scheduled > 0 {
		s.logger.Infow("sweep finished", "pruned_cooldowns", pruned, "rechecks", scheduled)
	}
	return pruned, scheduled
}
