package telemetry

import (
	"context"
	"time"
)

// AuthEvent is one authentication event exported as telemetry. It never carries tokens or fingerprints.
type AuthEvent struct {
	Action      string
	PrincipalID string
	SessionID   string
	Reason      string
	At          time.Time
}

// EventEmitter emits auth events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event AuthEvent) error
}
