package backup

import (
	"context"
	"sync"
	"time"

	"voicerooms/pkg/backup"

	"go.uber.org/zap"
)

// Scheduler snapshots the room database on an interval and prunes
// snapshots older than the retention window.
type Scheduler struct {
	service   *backup.BackupService
	source    backup.Snapshotter
	interval  time.Duration
	retention time.Duration
	logger    *zap.SugaredLogger

	stopOnce sync.Once
	stopChan chan struct{}
}

type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

func NewScheduler(service *backup.BackupService, source backup.Snapshotter, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		service:   service,
		source:    source,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start takes a snapshot right away and then once per interval until ctx
// is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunOnce takes one snapshot and prunes old ones. It returns the new
// backup name, or "" when the snapshot failed.
func (s *Scheduler) RunOnce(ctx context.Context) string {
	started := time.Now()
	name, err := s.service.CreateBackup(ctx, s.source)
	if err != nil {
		s.logger.Errorw("failed to create backup", "error", err)
		return ""
	}
	s.logger.Infow("backup created", "backup_name", name, "duration", time.Since(started))

	if s.retention > 0 {
		deleted, err := s.service.Prune(ctx, s.retention)
		if err != nil {
			s.logger.Warnw("failed to prune old backups", "error", err)
		}
		for _, name := range deleted {
			s.logger.Infow("deleted old backup", "backup_name", name)
		}
	}
	return name
}
