package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voicerooms/internal/core/domain"
)

// Preference returns the stored preference of a scope, or nil if none.
func (s *Store) Preference(ctx context.Context, scope domain.Scope) (*domain.Preference, error) {
	var (
		pref      = domain.Preference{Scope: scope}
		limit     sql.NullInt64
		locked    int
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, user_limit, locked, updated_at FROM preferences WHERE guild_id = ? AND trigger_id = ? AND user_id = ?",
		scope.GuildID, scope.TriggerID, scope.UserID,
	).Scan(&pref.Name, &limit, &locked, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}

	if limit.Valid {
		l := int(limit.Int64)
		pref.UserLimit = &l
	}
	pref.Locked = locked == 1
	if pref.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &pref, nil
}

func (s *Store) UpsertPreference(ctx context.Context, pref *domain.Preference) error {
	if pref.UpdatedAt.IsZero() {
		pref.UpdatedAt = time.Now()
	}
	var limit sql.NullInt64
	if pref.UserLimit != nil {
		limit = sql.NullInt64{Int64: int64(*pref.UserLimit), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO preferences (guild_id, trigger_id, user_id, name, user_limit, locked, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT (guild_id, trigger_id, user_id) DO UPDATE SET name = excluded.name, user_limit = excluded.user_limit, "+
			"locked = excluded.locked, updated_at = excluded.updated_at",
		pref.GuildID, pref.TriggerID, pref.UserID, pref.Name, limit, boolToInt(pref.Locked), formatTime(pref.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// AccessOverrides returns the rows of every feature family for a scope,
// access family first, each family ordered by target.
func (s *Store) AccessOverrides(ctx context.Context, scope domain.Scope) ([]domain.AccessOverride, error) {
	var out []domain.AccessOverride
	for _, fam := range domain.AllFamilies() {
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT target_id, target_type, enabled FROM %s WHERE guild_id = ? AND trigger_id = ? AND user_id = ? ORDER BY target_type, target_id", fam.Table),
			scope.GuildID, scope.TriggerID, scope.UserID,
		)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", fam.Table, err)
		}
		for rows.Next() {
			o := domain.AccessOverride{Scope: scope, Feature: fam.Feature}
			var (
				targetType string
				enabled    int
			)
			if err := rows.Scan(&o.TargetID, &targetType, &enabled); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s: %w", fam.Table, err)
			}
			o.TargetType = domain.TargetType(targetType)
			o.Enabled = enabled == 1
			out = append(out, o)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("rows %s: %w", fam.Table, err)
		}
	}
	return out, nil
}

func (s *Store) SetAccessOverride(ctx context.Context, o domain.AccessOverride) error {
	fam, ok := domain.FamilyFor(o.Feature)
	if !ok {
		return fmt.Errorf("%w: unknown feature %q", domain.ErrInvalidPreference, o.Feature)
	}
	if !o.TargetType.Valid() {
		return fmt.Errorf("%w: unknown target type %q", domain.ErrInvalidPreference, o.TargetType)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (guild_id, trigger_id, user_id, target_id, target_type, enabled) VALUES (?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT (guild_id, trigger_id, user_id, target_id, target_type) DO UPDATE SET enabled = excluded.enabled", fam.Table),
		o.GuildID, o.TriggerID, o.UserID, o.TargetID, string(o.TargetType), boolToInt(o.Enabled),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", fam.Table, err)
	}
	return nil
}

func (s *Store) DeleteAccessOverride(ctx context.Context, scope domain.Scope, feature domain.Feature, target domain.TargetID, targetType domain.TargetType) error {
	fam, ok := domain.FamilyFor(feature)
	if !ok {
		return fmt.Errorf("%w: unknown feature %q", domain.ErrInvalidPreference, feature)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE guild_id = ? AND trigger_id = ? AND user_id = ? AND target_id = ? AND target_type = ?", fam.Table),
		scope.GuildID, scope.TriggerID, scope.UserID, target, string(targetType),
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", fam.Table, err)
	}
	return nil
}

// LastTrigger returns the trigger a user provisioned from last, or zero.
func (s *Store) LastTrigger(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (domain.ChannelID, error) {
	var id domain.ChannelID
	err := s.db.QueryRowContext(ctx,
		"SELECT trigger_id FROM trigger_preferences WHERE guild_id = ? AND user_id = ?",
		guildID, userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get last trigger: %w", err)
	}
	return id, nil
}

func (s *Store) SetLastTrigger(ctx context.Context, p domain.TriggerPreference) error {
	return upsertLastTrigger(ctx, s.db, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertLastTrigger(ctx context.Context, db execer, p domain.TriggerPreference) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO trigger_preferences (guild_id, user_id, trigger_id, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (guild_id, user_id) DO UPDATE SET trigger_id = excluded.trigger_id, updated_at = excluded.updated_at",
		p.GuildID, p.UserID, p.TriggerID, formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert trigger preference: %w", err)
	}
	return nil
}
