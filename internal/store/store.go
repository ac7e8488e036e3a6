// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/neurion-ai/seraph/internal/domain"
)

// ErrSessionNotFound is returned when an operation references an unknown
// session id.
var ErrSessionNotFound = errors.New("session not found")

// Repository defines the interface for the durable store backing sessions,
// the insight queue, the onboarding profile, and long-term memories.
type Repository interface {
	// GetSession retrieves a session by id. Returns nil when unknown.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// CreateSessionIfAbsent inserts the session row if it does not exist and
	// returns the stored row either way. Safe to call concurrently for the
	// same id.
	CreateSessionIfAbsent(ctx context.Context, id string) (*domain.Session, error)

	// AddMessage appends a message to a session's log. Returns
	// ErrSessionNotFound for unknown session ids.
	AddMessage(ctx context.Context, sessionID, role, content string, stepNumber *int, toolUsed string) (*domain.Message, error)

	// ListMessages returns a session's messages in insertion order,
	// including step rows. limit <= 0 means no limit.
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]domain.Message, error)

	// ListSessions returns one summary per session.
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)

	// UpdateSessionTitle renames a session. Returns false for unknown ids.
	UpdateSessionTitle(ctx context.Context, id, title string) (bool, error)

	// DeleteSession removes a session and its messages atomically. Returns
	// false for unknown ids.
	DeleteSession(ctx context.Context, id string) (bool, error)

	// CountConversationMessages counts user and assistant messages only.
	CountConversationMessages(ctx context.Context, sessionID string) (int, error)

	// InsertInsight appends a queued insight.
	InsertInsight(ctx context.Context, insight *domain.QueuedInsight) (*domain.QueuedInsight, error)

	// TakeAllInsights reads every queued insight and deletes all of them in
	// the same transaction, returning the rows as they were stored.
	TakeAllInsights(ctx context.Context) ([]domain.QueuedInsight, error)

	// CountInsights counts insights created after cutoff.
	CountInsights(ctx context.Context, cutoff time.Time) (int, error)

	// PeekInsights returns insights created after cutoff ordered by urgency
	// descending, truncated to limit. Non-destructive.
	PeekInsights(ctx context.Context, cutoff time.Time, limit int) ([]domain.QueuedInsight, error)

	// GetOrCreateProfile returns the singleton profile row, creating it with
	// onboarding incomplete on first access.
	GetOrCreateProfile(ctx context.Context) (*domain.Profile, error)

	// SetOnboardingCompleted flips the onboarding flag on the singleton
	// profile, creating the row if needed.
	SetOnboardingCompleted(ctx context.Context, completed bool) error

	// AddMemory persists one long-term memory.
	AddMemory(ctx context.Context, content string) error

	// ListMemories returns the most recent memories, newest first.
	ListMemories(ctx context.Context, limit int) ([]domain.Memory, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
