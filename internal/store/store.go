// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/onboard-guide/internal/domain"
)

// SessionStore persists onboarding sessions.
type SessionStore interface {
	// CreateSession creates a session for the client identified by email,
	// creating the client if needed, and opens its first history entry.
	CreateSession(ctx context.Context, email, name string) (*domain.Session, error)

	// GetSession retrieves a session by ID. It returns (nil, nil) when absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// FindActiveSessionByEmail returns the newest uncompleted session of a client, or (nil, nil).
	FindActiveSessionByEmail(ctx context.Context, email string) (*domain.Session, error)

	// UpdateSession applies patch and returns the stored session.
	UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error)
}

// HistoryStore persists the checkpoint audit trail.
type HistoryStore interface {
	// AppendHistory opens a new entry for checkpoint.
	AppendHistory(ctx context.Context, sessionID string, checkpoint domain.Checkpoint) (*domain.HistoryEntry, error)

	// CloseOpenHistory closes the open entry for checkpoint with a data snapshot.
	CloseOpenHistory(ctx context.Context, sessionID string, checkpoint domain.Checkpoint, snapshot domain.CheckpointData) error

	// OpenHistory returns the session's open entry, or (nil, nil).
	OpenHistory(ctx context.Context, sessionID string) (*domain.HistoryEntry, error)

	// ListHistory returns every entry of a session, oldest first.
	ListHistory(ctx context.Context, sessionID string) ([]*domain.HistoryEntry, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	// AppendMessage stores a message and returns it with ID and timestamp set.
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string, opts domain.MessageOptions) (*domain.ChatMessage, error)

	// RecentMessages returns up to limit of the newest messages, oldest first.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*domain.ChatMessage, error)
}

// Transition is an accepted checkpoint change to be committed atomically:
// the open entry for From is closed with Snapshot, an entry for To is opened
// and Patch is applied to the session.
type Transition struct {
	SessionID string
	From      domain.Checkpoint
	To        domain.Checkpoint
	Snapshot  domain.CheckpointData
	Patch     domain.SessionPatch
	At        time.Time
}

// Repository defines the interface for persisting onboarding state.
type Repository interface {
	SessionStore
	HistoryStore
	MessageStore

	// CommitTransition applies a Transition in a single transaction.
	CommitTransition(ctx context.Context, t Transition) (*domain.Session, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
