package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicerooms/internal/core/domain"
)

const roomColumns = "room_id, guild_id, trigger_id, owner_id, created_at, last_activity, active"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*domain.Room, error) {
	var (
		r                       domain.Room
		createdAt, lastActivity string
		active                  int
	)
	if err := row.Scan(&r.RoomID, &r.GuildID, &r.TriggerID, &r.OwnerID, &createdAt, &lastActivity, &active); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parse last_activity: %w", err)
	}
	r.Active = active == 1
	return &r, nil
}

// CreateRoom records a provisioned room together with its owner's cooldown
// and last used trigger.
func (s *Store) CreateRoom(ctx context.Context, room *domain.Room, live []domain.ChannelID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Stale rows: same owner and trigger, still marked active, but the
		// room is not among the ones known to be alive.
		query := "UPDATE rooms SET active = 0 WHERE guild_id = ? AND trigger_id = ? AND owner_id = ? AND active = 1 AND room_id != ?"
		args := []any{room.GuildID, room.TriggerID, room.OwnerID, room.RoomID}
		if len(live) > 0 {
			query += " AND room_id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(live)), ",") + ")"
			for _, id := range live {
				args = append(args, id)
			}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("deactivate stale rooms: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Infow("deactivated stale room rows",
				"guild_id", room.GuildID,
				"trigger_id", room.TriggerID,
				"owner_id", room.OwnerID,
				"count", n,
			)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO rooms ("+roomColumns+") VALUES (?, ?, ?, ?, ?, ?, 1) "+
				"ON CONFLICT (room_id) DO UPDATE SET guild_id = excluded.guild_id, trigger_id = excluded.trigger_id, "+
				"owner_id = excluded.owner_id, created_at = excluded.created_at, last_activity = excluded.last_activity, active = 1",
			room.RoomID, room.GuildID, room.TriggerID, room.OwnerID,
			formatTime(room.CreatedAt), formatTime(room.LastActivity),
		)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}

		scope := domain.Scope{GuildID: room.GuildID, TriggerID: room.TriggerID, UserID: room.OwnerID}
		if err := upsertCooldown(ctx, tx, domain.Cooldown{Scope: scope, LastProvisioned: room.CreatedAt}); err != nil {
			return err
		}
		if err := upsertLastTrigger(ctx, tx, domain.TriggerPreference{
			GuildID:   room.GuildID,
			UserID:    room.OwnerID,
			TriggerID: room.TriggerID,
			UpdatedAt: room.CreatedAt,
		}); err != nil {
			return err
		}
		room.Active = true
		return nil
	})
}

func (s *Store) RoomByID(ctx context.Context, roomID domain.ChannelID) (*domain.Room, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE room_id = ?", roomID)
	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %d: %w", roomID, err)
	}
	return room, nil
}

func (s *Store) queryRooms(ctx context.Context, query string, args ...any) ([]*domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return rooms, nil
}

func (s *Store) ActiveRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.queryRooms(ctx, "SELECT "+roomColumns+" FROM rooms WHERE active = 1 ORDER BY created_at, room_id")
}

func (s *Store) ActiveRoomsByGuild(ctx context.Context, guildID domain.GuildID) ([]*domain.Room, error) {
	return s.queryRooms(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE guild_id = ? AND active = 1 ORDER BY created_at, room_id",
		guildID,
	)
}

func (s *Store) ActiveRoomsByTrigger(ctx context.Context, guildID domain.GuildID, triggerID domain.ChannelID) ([]*domain.Room, error) {
	return s.queryRooms(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE guild_id = ? AND trigger_id = ? AND active = 1 ORDER BY created_at, room_id",
		guildID, triggerID,
	)
}

func (s *Store) DeactivateRoom(ctx context.Context, roomID domain.ChannelID) error {
	res, err := s.db.ExecContext(ctx, "UPDATE rooms SET active = 0 WHERE room_id = ?", roomID)
	if err != nil {
		return fmt.Errorf("deactivate room %d: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (s *Store) TouchRoom(ctx context.Context, roomID domain.ChannelID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE rooms SET last_activity = ? WHERE room_id = ?", formatTime(at), roomID)
	if err != nil {
		return fmt.Errorf("touch room %d: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}
