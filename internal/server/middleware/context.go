package middleware

import (
	"context"
	"time"
)

type contextKey struct{ name string }

var (
	principalIDKey = contextKey{"principal_id"}
	sessionIDKey   = contextKey{"session_id"}
	expiresAtKey   = contextKey{"access_expires_at"}
	clientIPKey    = contextKey{"client_ip"}
	requestIDKey   = contextKey{"request_id"}
)

// WithIdentity returns a context carrying the authenticated principal, session and access-token expiry.
// Handlers read them via GetPrincipalID, GetSessionID and GetAccessExpiry.
func WithIdentity(ctx context.Context, principalID, sessionID string, expiresAt time.Time) context.Context {
	ctx = context.WithValue(ctx, principalIDKey, principalID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	ctx = context.WithValue(ctx, expiresAtKey, expiresAt)
	return ctx
}

// GetPrincipalID returns the principal_id from context and true if set; otherwise "", false.
func GetPrincipalID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalIDKey).(string)
	return v, ok
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok
}

// GetAccessExpiry returns the access token expiry from context and true if set.
func GetAccessExpiry(ctx context.Context) (time.Time, bool) {
	v, ok := ctx.Value(expiresAtKey).(time.Time)
	return v, ok
}

// WithClientIP returns a context carrying the client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the client IP stored by the ClientIP middleware, or "". It matches audit.IPExtractor.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// GetRequestID returns the request id assigned by RequestLogger.
func GetRequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	return v, ok
}
