package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"

	"go.uber.org/zap"
)

const currentSchemaVersion = 2

// Migration is one schema step, applied inside its own transaction.
type Migration struct {
	Version int
	Up      func(ctx context.Context, tx *sql.Tx) error
}

// Migrate applies every migration newer than the recorded schema version.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations() {
		if m.Version <= version {
			continue
		}
		logger.Infow("running migration", "version", m.Version)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", m.Version, err)
		}
		if err := m.Up(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			m.Version, formatTime(time.Now()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: record version: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.Version, err)
		}
	}
	return nil
}

func migrations() []Migration {
	return []Migration{
		{Version: 1, Up: migrateToV1},
		{Version: 2, Up: migrateToV2},
	}
}

func migrateToV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id INTEGER PRIMARY KEY,
			guild_id INTEGER NOT NULL,
			trigger_id INTEGER NOT NULL,
			owner_id INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_guild_active ON rooms (guild_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_owner ON rooms (guild_id, trigger_id, owner_id, active)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			guild_id INTEGER NOT NULL,
			trigger_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			user_limit INTEGER,
			locked INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (guild_id, trigger_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS cooldowns (
			guild_id INTEGER NOT NULL,
			trigger_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			last_provisioned TEXT NOT NULL,
			PRIMARY KEY (guild_id, trigger_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS trigger_channels (
			guild_id INTEGER NOT NULL,
			channel_id INTEGER NOT NULL,
			category_id INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (guild_id, channel_id)
		)`,
		`CREATE TABLE IF NOT EXISTS trigger_preferences (
			guild_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			trigger_id INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		)`,
	}
	for _, fam := range domain.AllFamilies() {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			guild_id INTEGER NOT NULL,
			trigger_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			target_type TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			PRIMARY KEY (guild_id, trigger_id, user_id, target_id, target_type)
		)`, fam.Table))
	}
	return execAll(ctx, tx, stmts)
}

func migrateToV2(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id INTEGER PRIMARY KEY,
			cooldown_seconds INTEGER,
			startup_cleanup_mode TEXT NOT NULL DEFAULT ''
		)`,
	})
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
