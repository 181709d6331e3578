package domain

import (
	"time"

	"github.com/google/uuid"
)

// RevokeReason records why a session reached the Revoked state.
type RevokeReason string

const (
	RevokeReasonLogout        RevokeReason = "logout"
	RevokeReasonReuseDetected RevokeReason = "reuse_detected"
	RevokeReasonAdmin         RevokeReason = "admin"
)

// Session is the server-side record of a refresh-token lineage. Only the fingerprint of the
// current refresh token is stored, never the token itself.
type Session struct {
	ID               string
	PrincipalID      string
	RefreshTokenHash string
	Generation       int64
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RotatedAt        *time.Time // nil until the first rotation
	RevokedAt        *time.Time // nil when not revoked
	RevokeReason     RevokeReason
}

// Rotation is the input of an atomic compare-and-swap on a session's generation.
type Rotation struct {
	SessionID          string
	ExpectedGeneration int64
	NewRefreshHash     string
	NewExpiresAt       time.Time
	Now                time.Time
}

// NewSessionID returns a random session id (UUIDv4, 122 bits from crypto/rand).
func NewSessionID() string {
	return uuid.NewString()
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// ActiveAt reports whether the session is usable at now: not revoked and not past expiry plus grace.
func (s *Session) ActiveAt(now time.Time, grace time.Duration) bool {
	return !s.Revoked() && now.Before(s.ExpiresAt.Add(grace))
}
