package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tma-auth/internal/audit"
	principaldomain "tma-auth/internal/principal/domain"
	"tma-auth/internal/security"
	sessiondomain "tma-auth/internal/session/domain"
	sessionrepo "tma-auth/internal/session/repository"
	"tma-auth/internal/telegram"
	"tma-auth/internal/telemetry"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
var (
	// ErrAuthenticationFailed covers every payload, signature and token problem. Callers never learn which.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrSessionRevoked is returned when a refresh targets a revoked, expired or reused session.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrStoreUnavailable means the request is safe to retry: no session state was changed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

const defaultStoreTimeout = 3 * time.Second

// AuthResult holds the outcome of Login or Refresh.
type AuthResult struct {
	AccessToken  security.Token
	RefreshToken security.Token
	SessionID    string
	Generation   int64
	PrincipalID  string
	Principal    *principaldomain.Principal // set by Login only
}

// LoginVerifier checks a Telegram login payload.
type LoginVerifier interface {
	Verify(fields map[string]string, now time.Time) (*telegram.Result, error)
}

// PrincipalRepo is the minimal principal repository needed by the auth service.
type PrincipalRepo interface {
	Upsert(ctx context.Context, p *principaldomain.Principal) error
}

// AuthService implements Telegram login, refresh-token rotation with reuse detection, and logout.
type AuthService struct {
	verifier     LoginVerifier
	principals   PrincipalRepo
	sessions     sessionrepo.Repository
	tokens       *security.Issuer
	fingerprints *security.Fingerprinter

	audit        audit.AuditLogger
	events       telemetry.EventEmitter
	metrics      *telemetry.AuthMetrics
	log          *zap.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// Option configures optional AuthService dependencies.
type Option func(*AuthService)

// WithAuditLogger records auth events to the audit trail.
func WithAuditLogger(l audit.AuditLogger) Option { return func(s *AuthService) { s.audit = l } }

// WithEventEmitter exports auth events as telemetry.
func WithEventEmitter(e telemetry.EventEmitter) Option { return func(s *AuthService) { s.events = e } }

// WithMetrics counts auth outcomes.
func WithMetrics(m *telemetry.AuthMetrics) Option { return func(s *AuthService) { s.metrics = m } }

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option { return func(s *AuthService) { s.log = l } }

// WithStoreTimeout bounds every store call. Non-positive values keep the default.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *AuthService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	verifier LoginVerifier,
	principals PrincipalRepo,
	sessions sessionrepo.Repository,
	tokens *security.Issuer,
	fingerprints *security.Fingerprinter,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		verifier:     verifier,
		principals:   principals,
		sessions:     sessions,
		tokens:       tokens,
		fingerprints: fingerprints,
		log:          zap.NewNop(),
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies the Telegram payload, upserts the principal, and opens a new session at generation 0.
func (s *AuthService) Login(ctx context.Context, fields map[string]string) (*AuthResult, error) {
	now := s.now().UTC()
	verified, err := s.verifier.Verify(fields, now)
	if err != nil {
		s.log.Info("login rejected", zap.Error(err))
		s.metrics.Login(ctx, telemetry.OutcomeRejected)
		s.record(ctx, "", "", audit.ActionLoginFailure, err.Error())
		return nil, ErrAuthenticationFailed
	}

	u := verified.User
	p := &principaldomain.Principal{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		PhotoURL:     u.PhotoURL,
		LanguageCode: u.LanguageCode,
		IsPremium:    u.IsPremium,
		LastLoginAt:  now,
	}
	if s.principals != nil {
		if err := s.withStore(ctx, func(ctx context.Context) error { return s.principals.Upsert(ctx, p) }); err != nil {
			s.log.Error("principal upsert failed", zap.String("principal_id", p.ID), zap.Error(err))
			s.metrics.Login(ctx, telemetry.OutcomeUnavailable)
			return nil, fmt.Errorf("%w: upsert principal: %v", ErrStoreUnavailable, err)
		}
	}

	// A colliding random id is retried once with a fresh one; a second collision means something is badly wrong.
	var res *AuthResult
	for attempt := 0; attempt < 2; attempt++ {
		res, err = s.openSession(ctx, p.ID, now)
		if !errors.Is(err, sessionrepo.ErrDuplicateID) {
			break
		}
		s.log.Warn("session id collision", zap.Int("attempt", attempt))
	}
	if err != nil {
		s.metrics.Login(ctx, telemetry.OutcomeUnavailable)
		if errors.Is(err, sessionrepo.ErrDuplicateID) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return nil, err
	}
	res.Principal = p

	s.metrics.Login(ctx, telemetry.OutcomeSuccess)
	s.record(ctx, p.ID, res.SessionID, audit.ActionLoginSuccess, "")
	return res, nil
}

func (s *AuthService) openSession(ctx context.Context, principalID string, now time.Time) (*AuthResult, error) {
	sid := sessiondomain.NewSessionID()
	pair, err := s.issuePair(principalID, sid, 0, now)
	if err != nil {
		return nil, err
	}
	sess := &sessiondomain.Session{
		ID:               sid,
		PrincipalID:      principalID,
		RefreshTokenHash: s.fingerprints.Fingerprint(pair.RefreshToken.Value),
		IssuedAt:         now,
		ExpiresAt:        pair.RefreshToken.ExpiresAt,
	}
	err = s.withStore(ctx, func(ctx context.Context) error { return s.sessions.Create(ctx, sess) })
	if err != nil {
		if errors.Is(err, sessionrepo.ErrDuplicateID) {
			return nil, err
		}
		s.log.Error("session create failed", zap.String("principal_id", principalID), zap.Error(err))
		return nil, fmt.Errorf("%w: create session: %v", ErrStoreUnavailable, err)
	}
	return pair, nil
}

// Refresh rotates the session named by refreshToken and returns a new token pair.
// A token whose generation or fingerprint does not match the stored session, or that loses a
// concurrent rotation, revokes the whole session and yields ErrSessionRevoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	now := s.now().UTC()
	claims, err := s.tokens.VerifyRefreshToken(refreshToken, now)
	if err != nil {
		s.metrics.Refresh(ctx, telemetry.OutcomeRejected)
		return nil, ErrAuthenticationFailed
	}
	sid, pid := claims.SessionID, claims.PrincipalID()

	var sess *sessiondomain.Session
	err = s.withStore(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.sessions.GetActive(ctx, sid, now)
		return err
	})
	if err != nil {
		if errors.Is(err, sessionrepo.ErrNotFound) {
			s.metrics.Refresh(ctx, telemetry.OutcomeRevoked)
			return nil, ErrSessionRevoked
		}
		s.log.Error("session lookup failed", zap.String("session_id", sid), zap.Error(err))
		s.metrics.Refresh(ctx, telemetry.OutcomeUnavailable)
		return nil, fmt.Errorf("%w: get session: %v", ErrStoreUnavailable, err)
	}

	switch {
	case sess.PrincipalID != pid:
		return nil, s.revokeForReuse(ctx, pid, sid, "principal mismatch")
	case sess.Generation != claims.Generation:
		return nil, s.revokeForReuse(ctx, pid, sid, fmt.Sprintf("presented generation %d, stored %d", claims.Generation, sess.Generation))
	case !s.fingerprints.Equal(refreshToken, sess.RefreshTokenHash):
		return nil, s.revokeForReuse(ctx, pid, sid, "fingerprint mismatch")
	}

	next := claims.Generation + 1
	pair, err := s.issuePair(pid, sid, next, now)
	if err != nil {
		return nil, err
	}
	rot := sessiondomain.Rotation{
		SessionID:          sid,
		ExpectedGeneration: claims.Generation,
		NewRefreshHash:     s.fingerprints.Fingerprint(pair.RefreshToken.Value),
		NewExpiresAt:       pair.RefreshToken.ExpiresAt,
		Now:                now,
	}
	var gen int64
	err = s.withStore(ctx, func(ctx context.Context) error {
		var err error
		gen, err = s.sessions.Rotate(ctx, rot)
		return err
	})
	if err != nil {
		if errors.Is(err, sessionrepo.ErrConflict) {
			return nil, s.revokeForReuse(ctx, pid, sid, "lost concurrent rotation")
		}
		s.log.Error("session rotate failed", zap.String("session_id", sid), zap.Error(err))
		s.metrics.Refresh(ctx, telemetry.OutcomeUnavailable)
		return nil, fmt.Errorf("%w: rotate session: %v", ErrStoreUnavailable, err)
	}
	if gen != next {
		s.log.Error("rotation returned unexpected generation",
			zap.String("session_id", sid), zap.Int64("want", next), zap.Int64("got", gen))
	}

	s.metrics.Refresh(ctx, telemetry.OutcomeSuccess)
	s.record(ctx, pid, sid, audit.ActionRefresh, fmt.Sprintf("generation=%d", gen))
	return pair, nil
}

// revokeForReuse revokes the session after a reuse signal. It returns ErrSessionRevoked, or
// ErrStoreUnavailable when the revocation itself could not be written.
func (s *AuthService) revokeForReuse(ctx context.Context, principalID, sessionID, detail string) error {
	now := s.now().UTC()
	err := s.withStore(ctx, func(ctx context.Context) error {
		return s.sessions.Revoke(ctx, sessionID, sessiondomain.RevokeReasonReuseDetected, now)
	})
	if err != nil {
		s.log.Error("revoke after reuse failed", zap.String("session_id", sessionID), zap.Error(err))
		s.metrics.Refresh(ctx, telemetry.OutcomeUnavailable)
		return fmt.Errorf("%w: revoke session: %v", ErrStoreUnavailable, err)
	}
	s.log.Warn("refresh token reuse detected; session revoked",
		zap.String("principal_id", principalID), zap.String("session_id", sessionID), zap.String("detail", detail))
	s.metrics.Refresh(ctx, telemetry.OutcomeRevoked)
	s.metrics.ReuseDetected(ctx)
	s.metrics.Revocation(ctx, string(sessiondomain.RevokeReasonReuseDetected))
	s.record(ctx, principalID, sessionID, audit.ActionReuseDetected, detail)
	return ErrSessionRevoked
}

// Logout revokes the session named by refreshToken, or failing that by accessToken.
// The refresh token only needs a valid signature; an expired one still logs out. Input that names
// no session is a silent no-op, and revoking an already revoked session succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken, accessToken string) error {
	now := s.now().UTC()
	var sid, pid string
	if refreshToken != "" {
		if c, err := s.tokens.VerifyRefreshTokenSignature(refreshToken); err == nil {
			sid, pid = c.SessionID, c.PrincipalID()
		}
	}
	if sid == "" && accessToken != "" {
		if c, err := s.tokens.VerifyAccessToken(accessToken, now); err == nil {
			sid, pid = c.SessionID, c.PrincipalID()
		}
	}
	if sid == "" {
		return nil
	}
	if err := s.revoke(ctx, sid, sessiondomain.RevokeReasonLogout, now); err != nil {
		return err
	}
	s.record(ctx, pid, sid, audit.ActionLogout, "")
	return nil
}

// AdminRevoke revokes a session by id. Unknown ids are not an error.
func (s *AuthService) AdminRevoke(ctx context.Context, sessionID string) error {
	if err := s.revoke(ctx, sessionID, sessiondomain.RevokeReasonAdmin, s.now().UTC()); err != nil {
		return err
	}
	s.record(ctx, "", sessionID, audit.ActionAdminRevoke, "")
	return nil
}

// Sessions lists every session of the principal, newest first.
func (s *AuthService) Sessions(ctx context.Context, principalID string) ([]*sessiondomain.Session, error) {
	var list []*sessiondomain.Session
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		list, err = s.sessions.ListByPrincipal(ctx, principalID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStoreUnavailable, err)
	}
	return list, nil
}

func (s *AuthService) revoke(ctx context.Context, sessionID string, reason sessiondomain.RevokeReason, at time.Time) error {
	err := s.withStore(ctx, func(ctx context.Context) error {
		return s.sessions.Revoke(ctx, sessionID, reason, at)
	})
	if err != nil {
		s.log.Error("session revoke failed", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("%w: revoke session: %v", ErrStoreUnavailable, err)
	}
	s.metrics.Revocation(ctx, string(reason))
	return nil
}

func (s *AuthService) issuePair(principalID, sessionID string, generation int64, now time.Time) (*AuthResult, error) {
	access, err := s.tokens.IssueAccessToken(principalID, sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(principalID, sessionID, generation, now)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &AuthResult{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
		Generation:   generation,
		PrincipalID:  principalID,
	}, nil
}

// withStore runs fn under the per-call store timeout.
func (s *AuthService) withStore(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *AuthService) record(ctx context.Context, principalID, sessionID, action, detail string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, principalID, sessionID, action, detail)
	}
	telemetry.EmitAsync(s.events, telemetry.AuthEvent{
		Action:      action,
		PrincipalID: principalID,
		SessionID:   sessionID,
		Reason:      detail,
		At:          s.now().UTC(),
	}, s.log)
}
