package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	namePrefix = "backup-"
	nameSuffix = ".db"
	timeLayout = "20060102-150405"
)

var ErrInvalidName = errors.New("invalid backup name")

// Snapshotter produces a consistent copy of a database at path.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Info describes a stored backup.
type Info struct {
	Name      string
	CreatedAt time.Time
}

// BackupService creates, lists and restores database snapshots.
type BackupService struct {
	storage Storage
	now     func() time.Time
}

func NewBackupService(storage Storage) *BackupService {
	return &BackupService{
		storage: storage,
		now:     time.Now,
	}
}

// BackupName returns the storage name for a snapshot taken at t.
func BackupName(t time.Time) string {
	return namePrefix + t.UTC().Format(timeLayout) + nameSuffix
}

// ParseBackupName extracts the snapshot time from a backup name.
func ParseBackupName(name string) (time.Time, error) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	t, err := time.ParseInLocation(timeLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return t, nil
}

// CreateBackup snapshots src into a scratch file and hands it to storage.
func (bs *BackupService) CreateBackup(ctx context.Context, src Snapshotter) (string, error) {
	dir, err := os.MkdirTemp("", "voicerooms-backup-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	scratch := filepath.Join(dir, "snapshot.db")
	if err := src.Snapshot(ctx, scratch); err != nil {
		return "", err
	}

	f, err := os.Open(scratch)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	name := BackupName(bs.now())
	if err := bs.storage.Save(ctx, name, f); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return name, nil
}

// RestoreBackup writes the named backup to destPath, replacing any existing
// file atomically. The database at destPath must not be open.
func (bs *BackupService) RestoreBackup(ctx context.Context, name, destPath string) error {
	if _, err := ParseBackupName(name); err != nil {
		return err
	}

	reader, err := bs.storage.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create restore file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write restore file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write restore file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}
	return nil
}

// ListBackups returns stored backups, newest first. Names that do not parse
// are skipped.
func (bs *BackupService) ListBackups(ctx context.Context) ([]Info, error) {
	names, err := bs.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		at, err := ParseBackupName(name)
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: name, CreatedAt: at})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

func (bs *BackupService) DeleteBackup(ctx context.Context, name string) error {
	return bs.storage.Delete(ctx, name)
}

// Prune deletes backups older than retention but always keeps the newest
// one. It returns the deleted names.
func (bs *BackupService) Prune(ctx context.Context, retention time.Duration) ([]string, error) {
	infos, err := bs.ListBackups(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := bs.now().Add(-retention)
	var deleted []string
	for i, info := range infos {
		if i == 0 || !info.CreatedAt.Before(cutoff) {
			continue
		}
		if err := bs.storage.Delete(ctx, info.Name); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", info.Name, err)
		}
		deleted = append(deleted, info.Name)
	}
	return deleted, nil
}
