package repository

import (
	"context"
	"errors"
	"time"

	"tma-auth/internal/session/domain"
)

var (
	// ErrNotFound is returned when a session does not exist, is revoked, or is past expiry plus grace.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by Rotate when the stored generation did not match; nothing was written.
	ErrConflict = errors.New("session generation conflict")
	// ErrDuplicateID is returned by Create when the session id is already taken.
	ErrDuplicateID = errors.New("session id already exists")
	// ErrStoreUnavailable wraps transport, timeout and database failures. No partial write happened.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Repository defines persistence for sessions. Create, Rotate and Revoke are each a single
// atomic operation at the storage layer so that concurrent callers across instances are safe.
type Repository interface {
	// Create inserts a new session at generation 0 with its first refresh fingerprint.
	Create(ctx context.Context, s *domain.Session) error
	// GetActive returns the session only if it is not revoked and not past expiry plus grace.
	GetActive(ctx context.Context, id string, now time.Time) (*domain.Session, error)
	// Rotate advances the generation and replaces the fingerprint iff the stored generation equals
	// r.ExpectedGeneration and the session is active. It returns the new generation or ErrConflict.
	Rotate(ctx context.Context, r domain.Rotation) (int64, error)
	// Revoke marks the session revoked. Idempotent; unknown ids are not an error.
	Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) error
	// ListByPrincipal returns all sessions of a principal, newest first.
	ListByPrincipal(ctx context.Context, principalID string) ([]*domain.Session, error)
	// DeleteExpired removes sessions whose expiry is before the cutoff and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// unavailable wraps err as ErrStoreUnavailable, keeping the cause in the message.
func unavailable(op string, err error) error {
	return &storeError{op: op, err: err}
}

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	return "session store: " + e.op + ": " + e.err.Error()
}

func (e *storeError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *storeError) Unwrap() error { return e.err }
