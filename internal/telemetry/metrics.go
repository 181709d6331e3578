package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcomes recorded on the login and refresh counters.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeRevoked     = "revoked"
	OutcomeUnavailable = "unavailable"
)

// AuthMetrics counts auth operations. A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	logins      metric.Int64Counter
	refreshes   metric.Int64Counter
	reuse       metric.Int64Counter
	revocations metric.Int64Counter
}

// NewAuthMetrics registers the auth counters on meter.
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	logins, err := meter.Int64Counter("auth.logins",
		metric.WithDescription("Login attempts by outcome."))
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.Int64Counter("auth.refreshes",
		metric.WithDescription("Refresh attempts by outcome."))
	if err != nil {
		return nil, err
	}
	reuse, err := meter.Int64Counter("auth.refresh_reuse_detected",
		metric.WithDescription("Sessions revoked because a refresh token was presented twice."))
	if err != nil {
		return nil, err
	}
	revocations, err := meter.Int64Counter("auth.session_revocations",
		metric.WithDescription("Session revocations by reason."))
	if err != nil {
		return nil, err
	}
	return &AuthMetrics{logins: logins, refreshes: refreshes, reuse: reuse, revocations: revocations}, nil
}

func (m *AuthMetrics) Login(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) Refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) ReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.reuse.Add(ctx, 1)
}

func (m *AuthMetrics) Revocation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
