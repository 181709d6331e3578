package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tma-auth/internal/audit/domain"
	auditrepo "tma-auth/internal/audit/repository"
)

// Actions recorded by the auth service.
const (
	ActionLoginSuccess  = "login_success"
	ActionLoginFailure  = "login_failure"
	ActionRefresh       = "refresh"
	ActionReuseDetected = "refresh_reuse_detected"
	ActionLogout        = "logout"
	ActionAdminRevoke   = "admin_revoke"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// writeTimeout bounds a single audit insert.
const writeTimeout = 2 * time.Second

// AuditLogger writes a single audit event. Used by the auth service.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, principalID, sessionID, action, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *zap.Logger
	now         func() time.Time
	inflight    sync.WaitGroup
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown". log may be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log, now: time.Now}
}

// LogEvent records one audit entry without blocking the caller. The client IP is read from ctx
// before returning; the insert runs in a goroutine detached from ctx cancellation so an aborted
// request still leaves its trail. Errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, principalID, sessionID, action, metadata string) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	entry := &domain.AuditLog{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		SessionID:   sessionID,
		Action:      action,
		IP:          ip,
		Metadata:    metadata,
		CreatedAt:   l.now().UTC(),
	}
	detached := context.WithoutCancel(ctx)
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		wctx, cancel := context.WithTimeout(detached, writeTimeout)
		defer cancel()
		if err := l.repo.Create(wctx, entry); err != nil {
			l.log.Warn("audit: failed to log event",
				zap.String("action", action),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every pending audit write has finished. Call it after the HTTP server
// stops and before the database is closed.
func (l *Logger) Wait() {
	l.inflight.Wait()
}
