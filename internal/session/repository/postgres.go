package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tma-auth/internal/session/domain"
)

const uniqueViolation = "23505"

const (
	createSessionQuery = `
INSERT INTO sessions (id, principal_id, refresh_token_hash, generation, issued_at, expires_at)
VALUES ($1, $2, $3, 0, $4, $5)`

	getActiveSessionQuery = `
SELECT id, principal_id, refresh_token_hash, generation, issued_at, expires_at, rotated_at, revoked_at, revoke_reason
FROM sessions
WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2`

	// rotateSessionQuery is the compare-and-swap: the row lock taken by UPDATE serialises concurrent
	// rotations, and the loser re-evaluates the WHERE clause against the winner's generation.
	rotateSessionQuery = `
UPDATE sessions
SET generation = generation + 1, refresh_token_hash = $3, expires_at = $4, rotated_at = $5
WHERE id = $1 AND generation = $2 AND revoked_at IS NULL AND expires_at > $6
RETURNING generation`

	revokeSessionQuery = `
UPDATE sessions
SET revoked_at = COALESCE(revoked_at, $2), revoke_reason = COALESCE(revoke_reason, $3)
WHERE id = $1`

	listSessionsByPrincipalQuery = `
SELECT id, principal_id, refresh_token_hash, generation, issued_at, expires_at, rotated_at, revoked_at, revoke_reason
FROM sessions
WHERE principal_id = $1
ORDER BY issued_at DESC`

	deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < $1`
)

// PostgresRepository stores sessions in the sessions table of the environment's schema.
type PostgresRepository struct {
	db    *sql.DB
	grace time.Duration
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
// grace extends how long past expiry a session is still reported by GetActive and accepted by Rotate.
func NewPostgresRepository(db *sql.DB, grace time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, grace: grace}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, createSessionQuery, s.ID, s.PrincipalID, s.RefreshTokenHash, s.IssuedAt, s.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateID
		}
		return unavailable("create", err)
	}
	s.Generation = 0
	return nil
}

// GetActive returns the session for id, or ErrNotFound if it is missing, revoked or expired past grace.
func (r *PostgresRepository) GetActive(ctx context.Context, id string, now time.Time) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, getActiveSessionQuery, id, now.Add(-r.grace))
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return s, nil
}

// Rotate runs the conditional update and returns the new generation, or ErrConflict when no row matched.
func (r *PostgresRepository) Rotate(ctx context.Context, rot domain.Rotation) (int64, error) {
	var gen int64
	err := r.db.QueryRowContext(ctx, rotateSessionQuery,
		rot.SessionID, rot.ExpectedGeneration, rot.NewRefreshHash, rot.NewExpiresAt, rot.Now, rot.Now.Add(-r.grace),
	).Scan(&gen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrConflict
		}
		return 0, unavailable("rotate", err)
	}
	return gen, nil
}

// Revoke marks the session revoked. The first revocation's time and reason are kept.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, revokeSessionQuery, id, at, string(reason)); err != nil {
		return unavailable("revoke", err)
	}
	return nil
}

// ListByPrincipal returns all sessions for the principal, newest first.
func (r *PostgresRepository) ListByPrincipal(ctx context.Context, principalID string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, listSessionsByPrincipalQuery, principalID)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, unavailable("list", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

// DeleteExpired removes sessions that expired before the cutoff.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredSessionsQuery, before)
	if err != nil {
		return 0, unavailable("delete expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("delete expired", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s         domain.Session
		rotatedAt sql.NullTime
		revokedAt sql.NullTime
		reason    sql.NullString
	)
	if err := row.Scan(&s.ID, &s.PrincipalID, &s.RefreshTokenHash, &s.Generation, &s.IssuedAt, &s.ExpiresAt, &rotatedAt, &revokedAt, &reason); err != nil {
		return nil, err
	}
	s.RotatedAt = nullTimeToPtr(rotatedAt)
	s.RevokedAt = nullTimeToPtr(revokedAt)
	if reason.Valid {
		s.RevokeReason = domain.RevokeReason(reason.String)
	}
	return &s, nil
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
