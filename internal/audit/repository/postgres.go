package repository

import (
	"context"
	"database/sql"

	"tma-auth/internal/audit/domain"
)

const (
	createAuditLogQuery = `
INSERT INTO audit_logs (id, principal_id, session_id, action, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listAuditLogsByPrincipalQuery = `
SELECT id, principal_id, session_id, action, ip, metadata, created_at
FROM audit_logs
WHERE principal_id = $1
ORDER BY created_at DESC
LIMIT $2`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, createAuditLogQuery,
		a.ID, a.PrincipalID, a.SessionID, a.Action, a.IP, a.Metadata, a.CreatedAt)
	return err
}

// ListByPrincipal returns the newest audit logs for the principal.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByPrincipal(ctx context.Context, principalID string, limit int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, listAuditLogsByPrincipalQuery, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.PrincipalID, &a.SessionID, &a.Action, &a.IP, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}
