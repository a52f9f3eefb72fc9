package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/infrastructure/repositories/sqlite"
	"voicerooms/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newScheduler(t *testing.T, interval time.Duration) (*Scheduler, *backup.BackupService, *sqlite.Store) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.AddTriggerChannel(ctx, domain.TriggerChannel{GuildID: 1, ChannelID: 2}))

	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	service := backup.NewBackupService(storage)

	s := NewScheduler(service, store, Config{Interval: interval, Retention: time.Hour}, zaptest.NewLogger(t).Sugar())
	return s, service, store
}

func TestScheduler_RunOnceRestoresToWorkingDatabase(t *testing.T) {
	ctx := context.Background()
	s, service, _ := newScheduler(t, time.Hour)

	name := s.RunOnce(ctx)
	require.NotEmpty(t, name)

	dest := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, service.RestoreBackup(ctx, name, dest))

	restored, err := sqlite.Open(ctx, dest, nil)
	require.NoError(t, err)
	defer restored.Close()

	triggers, err := restored.TriggerChannels(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, triggers, 1)
}

func TestScheduler_StartSnapshotsImmediatelyAndStops(t *testing.T) {
	s, service, _ := newScheduler(t, time.Hour)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		infos, err := service.ListBackups(context.Background())
		return err == nil && len(infos) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
