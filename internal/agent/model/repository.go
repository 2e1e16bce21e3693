package model

import (
	"context"
	"time"
)

// SessionRepository is the pluggable session persistence backend.
type SessionRepository interface {
	// Load returns the stored session or an error matching
	// errx.ErrSessionNotFound when absent. Expiry is judged by the caller.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Save upserts the full session and refreshes its backend TTL.
	Save(ctx context.Context, session *Session) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases backend resources.
	Close() error
}

// SessionLeaser is implemented by backends shared between processes. A
// lease keeps two replicas from running turns on the same session at once.
type SessionLeaser interface {
	// TryAcquireLease takes or refreshes the lease for owner. It reports
	// false when another owner holds it.
	TryAcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease if owner holds it.
	ReleaseLease(ctx context.Context, sessionID, owner string) error
}
