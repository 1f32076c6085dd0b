package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/teris-io/shortid"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		chat_type TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		place_id TEXT NOT NULL DEFAULT '',
		user_id BIGINT NOT NULL,
		username TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		edited_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at DESC)`,
}

type PgStore struct {
	conn *sql.DB
	// newId issues opaque message ids; replaceable in tests
	newId func() (string, error)
}

func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &PgStore{conn: db, newId: shortid.Generate}, nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *PgStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
