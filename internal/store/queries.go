package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/bloxchat/bloxchat/internal/types"
)

func (s *PgStore) Insert(ctx context.Context, msg types.Message) (types.Message, error) {
	id, err := s.newId()
	if err != nil {
		return types.Message{}, err
	}

	msg.Id = id
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err = s.conn.ExecContext(ctx,
		"INSERT INTO messages (id, room_id, chat_type, job_id, place_id, user_id, username, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		msg.Id,
		msg.RoomId(),
		msg.ChatType,
		msg.JobId,
		msg.PlaceId,
		msg.UserId,
		msg.Username,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return types.Message{}, err
	}

	return msg, nil
}

func (s *PgStore) FindById(ctx context.Context, messageId string) (types.Message, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, chat_type, job_id, place_id, user_id, username, content, created_at, edited_at "+
			"FROM messages WHERE id = $1 LIMIT 1",
		messageId,
	)

	var msg types.Message
	var editedAt sql.NullTime
	err := row.Scan(
		&msg.Id,
		&msg.ChatType,
		&msg.JobId,
		&msg.PlaceId,
		&msg.UserId,
		&msg.Username,
		&msg.Content,
		&msg.CreatedAt,
		&editedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, ErrNotFound
	}
	if err != nil {
		return types.Message{}, err
	}

	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}

	return msg, nil
}

func (s *PgStore) UpdateContent(ctx context.Context, messageId, newContent string, editedAt time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE messages SET content = $2, edited_at = $3 WHERE id = $1",
		messageId,
		newContent,
		editedAt,
	)
	if err != nil {
		return err
	}

	return errNotFoundIfNoRows(res)
}

func (s *PgStore) Delete(ctx context.Context, messageId string) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", messageId)
	if err != nil {
		return err
	}

	return errNotFoundIfNoRows(res)
}

func (s *PgStore) ListByRoom(ctx context.Context, roomId string, limit int, before time.Time) ([]types.Message, error) {
	if limit <= 0 || limit > RoomMessageCap {
		limit = RoomMessageCap
	}

	query := "SELECT id, chat_type, job_id, place_id, user_id, username, content, created_at, edited_at " +
		"FROM messages WHERE room_id = $1"
	args := []any{roomId}
	if !before.IsZero() {
		query += " AND created_at < $2"
		args = append(args, before)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + strconv.Itoa(limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var msg types.Message
		var editedAt sql.NullTime
		if err := rows.Scan(
			&msg.Id,
			&msg.ChatType,
			&msg.JobId,
			&msg.PlaceId,
			&msg.UserId,
			&msg.Username,
			&msg.Content,
			&msg.CreatedAt,
			&editedAt,
		); err != nil {
			return nil, err
		}
		if editedAt.Valid {
			t := editedAt.Time
			msg.EditedAt = &t
		}
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

func (s *PgStore) CountByRoom(ctx context.Context, roomId string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE room_id = $1",
		roomId,
	).Scan(&count)

	return count, err
}

func (s *PgStore) CapRoom(ctx context.Context, roomId string, keep int) error {
	if keep <= 0 {
		keep = RoomMessageCap
	}

	// deletes everything but the keep newest; a no-op when under the
	// cap, and idempotent on concurrent re-entry
	_, err := s.conn.ExecContext(ctx,
		"DELETE FROM messages WHERE room_id = $1 AND id NOT IN ("+
			"SELECT id FROM messages WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2)",
		roomId,
		keep,
	)

	return err
}

func (s *PgStore) DeleteRoom(ctx context.Context, roomId string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM messages WHERE room_id = $1", roomId)
	return err
}

func (s *PgStore) UpsertUser(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	row := s.conn.QueryRowContext(ctx,
		"INSERT INTO users (id, username, display_name, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) "+
			"ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at "+
			"RETURNING id, username, display_name, created_at, updated_at",
		user.Id,
		user.Username,
		user.DisplayName,
		now,
	)

	var u types.User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.DisplayName,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (s *PgStore) GetUserById(ctx context.Context, userId int) (types.User, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, username, display_name, created_at, updated_at FROM users WHERE id = $1 LIMIT 1",
		userId,
	)

	var u types.User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.DisplayName,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ErrNotFound
	}

	return u, err
}

func errNotFoundIfNoRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
