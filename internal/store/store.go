package store

import (
	"context"
	"errors"
	"time"

	"github.com/bloxchat/bloxchat/internal/types"
)

// ErrNotFound is returned when a message or user does not exist.
var ErrNotFound = errors.New("not found")

// RoomMessageCap is the number of live messages retained per room.
const RoomMessageCap = 50

// MessageStore is the persistence contract for chat messages. Rooms
// have no stored existence of their own; they are a grouping key.
type MessageStore interface {
	// Insert persists msg, issuing its id and createdAt. The returned
	// message carries both.
	Insert(ctx context.Context, msg types.Message) (types.Message, error)
	FindById(ctx context.Context, messageId string) (types.Message, error)
	UpdateContent(ctx context.Context, messageId, newContent string, editedAt time.Time) error
	Delete(ctx context.Context, messageId string) error
	// ListByRoom returns up to limit messages ordered by createdAt
	// descending. A zero before means no upper bound.
	ListByRoom(ctx context.Context, roomId string, limit int, before time.Time) ([]types.Message, error)
	CountByRoom(ctx context.Context, roomId string) (int, error)
	// CapRoom deletes the oldest messages beyond keep. Safe to call
	// concurrently; re-entry is idempotent.
	CapRoom(ctx context.Context, roomId string, keep int) error
	DeleteRoom(ctx context.Context, roomId string) error
}

// UserStore persists users created lazily on first token verification.
type UserStore interface {
	// UpsertUser creates the user or refreshes its names on re-auth.
	UpsertUser(ctx context.Context, user types.User) (types.User, error)
	GetUserById(ctx context.Context, userId int) (types.User, error)
}

type Store interface {
	MessageStore
	UserStore
	Ping(ctx context.Context) error
	Close() error
}
