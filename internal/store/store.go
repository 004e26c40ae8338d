// Package store persists conversation logs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/duetlabs/duet/internal/domain"
)

// Store errors.
var (
	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidDriver is returned by New for an unsupported driver name.
	ErrInvalidDriver = errors.New("invalid store driver")

	// ErrInvalidConfig is returned by New when a driver is missing its options.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// ConversationStore is append-only durable storage for conversation logs.
type ConversationStore interface {
	// CreateConversation allocates a new empty conversation and returns its id.
	CreateConversation(ctx context.Context) (string, error)

	// AppendMessages adds msgs to the end of the conversation in order.
	AppendMessages(ctx context.Context, id string, msgs []domain.Message) error

	// LoadMessages returns the whole log of a conversation in append order.
	LoadMessages(ctx context.Context, id string) ([]domain.Message, error)

	// LatestConversationID returns the most recently created conversation,
	// or an empty string when there is none.
	LatestConversationID(ctx context.Context) (string, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Driver names a ConversationStore backend.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
	DriverMemory Driver = "memory"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
