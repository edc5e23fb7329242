// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
)

// Repository persists session headers and their message logs.
type Repository interface {
	// SaveSession creates or replaces a session header.
	SaveSession(ctx context.Context, rec *domain.SessionRecord) error

	// UpdateSessionState records a lifecycle transition.
	UpdateSessionState(ctx context.Context, id, state string, active bool, at time.Time) error

	// GetSession retrieves a session header. It returns nil, nil when absent.
	GetSession(ctx context.Context, id string) (*domain.SessionRecord, error)

	// ListSessions returns an owner's sessions, most recently updated first.
	ListSessions(ctx context.Context, ownerID string) ([]*domain.SessionRecord, error)

	// AppendMessage stores a message at the end of a session's log.
	// Appending the same message id twice is a no-op.
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error

	// ListMessages returns a session's messages in append order.
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// GetTranscript returns a session with its messages. It returns nil, nil when absent.
	GetTranscript(ctx context.Context, id string) (*domain.Transcript, error)

	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// CleanupExpiredSessions removes sessions not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
