package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/ports"
)

// TransferOwnership moves a room and the previous owner's settings for its
// trigger to the new owner. Rows the new owner already had in that scope are
// replaced.
func (s *Store) TransferOwnership(ctx context.Context, p ports.TransferParams) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE rooms SET owner_id = ?, last_activity = ? WHERE room_id = ? AND guild_id = ? AND owner_id = ? AND active = 1",
			p.To, formatTime(p.At), p.RoomID, p.GuildID, p.From,
		)
		if err != nil {
			return fmt.Errorf("update room owner: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrRoomNotFound
		}

		if err := moveScopedRows(ctx, tx, "preferences", p); err != nil {
			return err
		}
		for _, fam := range domain.AllFamilies() {
			if err := moveScopedRows(ctx, tx, fam.Table, p); err != nil {
				return err
			}
		}

		if err := upsertCooldown(ctx, tx, domain.Cooldown{
			Scope:           domain.Scope{GuildID: p.GuildID, TriggerID: p.TriggerID, UserID: p.To},
			LastProvisioned: p.At,
		}); err != nil {
			return err
		}
		return upsertLastTrigger(ctx, tx, domain.TriggerPreference{
			GuildID:   p.GuildID,
			UserID:    p.To,
			TriggerID: p.TriggerID,
			UpdatedAt: p.At,
		})
	})
}

func moveScopedRows(ctx context.Context, tx *sql.Tx, table string, p ports.TransferParams) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE guild_id = ? AND trigger_id = ? AND user_id = ?", table),
		p.GuildID, p.TriggerID, p.To,
	); err != nil {
		return fmt.Errorf("clear %s of new owner: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET user_id = ? WHERE guild_id = ? AND trigger_id = ? AND user_id = ?", table),
		p.To, p.GuildID, p.TriggerID, p.From,
	); err != nil {
		return fmt.Errorf("move %s: %w", table, err)
	}
	return nil
}

// scopedTables are the settings tables removed by scope purges.
func scopedTables() []string {
	tables := []string{"preferences", "cooldowns"}
	for _, fam := range domain.AllFamilies() {
		tables = append(tables, fam.Table)
	}
	return tables
}

func (s *Store) purge(ctx context.Context, where string, args ...any) (ports.PurgeReport, error) {
	var report ports.PurgeReport
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		report, err = purgeTx(ctx, tx, where, args...)
		return err
	})
	return report, err
}

func purgeTx(ctx context.Context, tx *sql.Tx, where string, args ...any) (ports.PurgeReport, error) {
	var report ports.PurgeReport
	for _, table := range scopedTables() {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, where), args...)
		if err != nil {
			return report, fmt.Errorf("purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		switch table {
		case "preferences":
			report.Preferences += n
		case "cooldowns":
			report.Cooldowns += n
		default:
			report.Overrides += n
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM trigger_preferences WHERE %s", where), args...); err != nil {
		return report, fmt.Errorf("purge trigger_preferences: %w", err)
	}
	return report, nil
}

func (s *Store) PurgeScope(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID, userID *domain.UserID) (ports.PurgeReport, error) {
	if userID != nil {
		return s.purge(ctx, "guild_id = ? AND trigger_id = ? AND user_id = ?", guildID, triggerID, *userID)
	}
	return s.purge(ctx, "guild_id = ? AND trigger_id = ?", guildID, triggerID)
}

func (s *Store) PurgeUser(ctx context.Context, guildID domain.GuildID, userID domain.UserID) (ports.PurgeReport, error) {
	return s.purge(ctx, "guild_id = ? AND user_id = ?", guildID, userID)
}

// PurgeGuild removes all settings and configuration of a guild in one
// transaction. Room rows are deactivated, not deleted, to keep the history.
func (s *Store) PurgeGuild(ctx context.Context, guildID domain.GuildID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := purgeTx(ctx, tx, "guild_id = ?", guildID); err != nil {
			return err
		}
		for _, q := range []string{
			"DELETE FROM trigger_channels WHERE guild_id = ?",
			"DELETE FROM guild_settings WHERE guild_id = ?",
			"UPDATE rooms SET active = 0 WHERE guild_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, guildID); err != nil {
				return fmt.Errorf("purge guild: %w", err)
			}
		}
		return nil
	})
}
