package domain

import "time"

// AuditLog represents an authentication event.
type AuditLog struct {
	ID          string
	PrincipalID string
	SessionID   string
	Action      string
	IP          string
	Metadata    string
	CreatedAt   time.Time
}
