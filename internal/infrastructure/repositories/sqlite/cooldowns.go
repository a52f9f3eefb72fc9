package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"
)

// Cooldown returns the cooldown record of a scope, or nil if none.
func (s *Store) Cooldown(ctx context.Context, scope domain.Scope) (*domain.Cooldown, error) {
	var ts string
	err := s.db.QueryRowContext(ctx,
		"SELECT last_provisioned FROM cooldowns WHERE guild_id = ? AND trigger_id = ? AND user_id = ?",
		scope.GuildID, scope.TriggerID, scope.UserID,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	at, err := parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("parse last_provisioned: %w", err)
	}
	return &domain.Cooldown{Scope: scope, LastProvisioned: at}, nil
}

func (s *Store) UpsertCooldown(ctx context.Context, c domain.Cooldown) error {
	return upsertCooldown(ctx, s.db, c)
}

func upsertCooldown(ctx context.Context, db execer, c domain.Cooldown) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO cooldowns (guild_id, trigger_id, user_id, last_provisioned) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (guild_id, trigger_id, user_id) DO UPDATE SET last_provisioned = excluded.last_provisioned",
		c.GuildID, c.TriggerID, c.UserID, formatTime(c.LastProvisioned),
	)
	if err != nil {
		return fmt.Errorf("upsert cooldown: %w", err)
	}
	return nil
}

// PruneCooldowns removes records older than before.
func (s *Store) PruneCooldowns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cooldowns WHERE last_provisioned < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune cooldowns: %w", err)
	}
	return res.RowsAffected()
}
