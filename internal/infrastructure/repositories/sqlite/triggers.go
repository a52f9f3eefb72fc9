package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicerooms/internal/core/domain"
)

// TriggerChannels returns the configured triggers of a guild in position order.
func (s *Store) TriggerChannels(ctx context.Context, guildID domain.GuildID) ([]domain.TriggerChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT guild_id, channel_id, category_id, position FROM trigger_channels WHERE guild_id = ? ORDER BY position, channel_id",
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query trigger channels: %w", err)
	}
	defer rows.Close()

	var out []domain.TriggerChannel
	for rows.Next() {
		var t domain.TriggerChannel
		if err := rows.Scan(&t.GuildID, &t.ChannelID, &t.CategoryID, &t.Position); err != nil {
			return nil, fmt.Errorf("scan trigger channel: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TriggerGuilds lists guilds with at least one trigger or active room.
func (s *Store) TriggerGuilds(ctx context.Context) ([]domain.GuildID, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT guild_id FROM trigger_channels UNION SELECT guild_id FROM rooms WHERE active = 1 ORDER BY guild_id",
	)
	if err != nil {
		return nil, fmt.Errorf("query trigger guilds: %w", err)
	}
	defer rows.Close()

	var out []domain.GuildID
	for rows.Next() {
		var id domain.GuildID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan guild id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddTriggerChannel appends a trigger at the end of the guild's list when
// Position is zero.
func (s *Store) AddTriggerChannel(ctx context.Context, t domain.TriggerChannel) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM trigger_channels WHERE guild_id = ? AND channel_id = ?",
			t.GuildID, t.ChannelID,
		).Scan(&exists)
		if err == nil {
			return domain.ErrTriggerExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check trigger channel: %w", err)
		}

		if t.Position == 0 {
			if err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(position), 0) + 1 FROM trigger_channels WHERE guild_id = ?",
				t.GuildID,
			).Scan(&t.Position); err != nil {
				return fmt.Errorf("next trigger position: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO trigger_channels (guild_id, channel_id, category_id, position) VALUES (?, ?, ?, ?)",
			t.GuildID, t.ChannelID, t.CategoryID, t.Position,
		); err != nil {
			return fmt.Errorf("insert trigger channel: %w", err)
		}
		return nil
	})
}

func (s *Store) RemoveTriggerChannel(ctx context.Context, guildID domain.GuildID, channelID domain.ChannelID) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM trigger_channels WHERE guild_id = ? AND channel_id = ?",
		guildID, channelID,
	)
	if err != nil {
		return fmt.Errorf("delete trigger channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTriggerNotFound
	}
	return nil
}

// GuildSettings returns the per-guild overrides, or nil if none are stored.
func (s *Store) GuildSettings(ctx context.Context, guildID domain.GuildID) (*domain.GuildSettings, error) {
	var (
		cooldown sql.NullInt64
		mode     string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT cooldown_seconds, startup_cleanup_mode FROM guild_settings WHERE guild_id = ?",
		guildID,
	).Scan(&cooldown, &mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get guild settings: %w", err)
	}

	gs := &domain.GuildSettings{GuildID: guildID, StartupCleanupMode: domain.CleanupMode(mode)}
	if cooldown.Valid {
		c := int(cooldown.Int64)
		gs.CooldownSeconds = &c
	}
	return gs, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, gs domain.GuildSettings) error {
	var cooldown sql.NullInt64
	if gs.CooldownSeconds != nil {
		cooldown = sql.NullInt64{Int64: int64(*gs.CooldownSeconds), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO guild_settings (guild_id, cooldown_seconds, startup_cleanup_mode) VALUES (?, ?, ?) "+
			"ON CONFLICT (guild_id) DO UPDATE SET cooldown_seconds = excluded.cooldown_seconds, "+
			"startup_cleanup_mode = excluded.startup_cleanup_mode",
		gs.GuildID, cooldown, string(gs.StartupCleanupMode),
	)
	if err != nil {
		return fmt.Errorf("upsert guild settings: %w", err)
	}
	return nil
}
