package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals a missing record.
var ErrNotFound = errors.New("record not found")

// User represents a persisted account record.
type User struct {
	ID        string
	Username  string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a durable room message. Private messages are never stored.
type Message struct {
	ID        string
	Room      string
	From      string
	Body      string
	Kind      string
	FileRef   string
	CreatedAt time.Time
}

// ReadReceipt is one reader's receipt for a message. A later read for
// the same reader replaces the earlier timestamp.
type ReadReceipt struct {
	MessageID string
	Reader    string
	ReadAt    time.Time
}

// Store is the durable collaborator of record for message history. The
// in-memory registries treat it as the source of truth for anything
// queried after a restart.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	AppendMessage(ctx context.Context, msg *Message) error
	// ListRoomMessages returns up to limit messages for the room that
	// were created strictly before the given time, newest first. A zero
	// time means "from the newest".
	ListRoomMessages(ctx context.Context, room string, before time.Time, limit int) ([]Message, error)

	UpsertReadReceipt(ctx context.Context, receipt ReadReceipt) error
	// ListReadReceipts returns the receipts for a message, newest first.
	ListReadReceipts(ctx context.Context, messageID string) ([]ReadReceipt, error)
}
