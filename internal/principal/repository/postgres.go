package repository

import (
	"context"
	"database/sql"
	"errors"

	"tma-auth/internal/principal/domain"
)

const (
	upsertPrincipalQuery = `
INSERT INTO principals (id, first_name, last_name, username, photo_url, language_code, is_premium, created_at, last_login_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (id) DO UPDATE SET
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    username = EXCLUDED.username,
    photo_url = EXCLUDED.photo_url,
    language_code = EXCLUDED.language_code,
    is_premium = EXCLUDED.is_premium,
    last_login_at = EXCLUDED.last_login_at`

	getPrincipalQuery = `
SELECT id, first_name, last_name, username, photo_url, language_code, is_premium, created_at, last_login_at
FROM principals WHERE id = $1`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a principal repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert persists the principal. p.LastLoginAt is used as created_at for new rows.
func (r *PostgresRepository) Upsert(ctx context.Context, p *domain.Principal) error {
	_, err := r.db.ExecContext(ctx, upsertPrincipalQuery,
		p.ID, p.FirstName, p.LastName, p.Username, p.PhotoURL, p.LanguageCode, p.IsPremium, p.LastLoginAt)
	return err
}

// GetByID returns the principal for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	var p domain.Principal
	err := r.db.QueryRowContext(ctx, getPrincipalQuery, id).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.Username, &p.PhotoURL, &p.LanguageCode, &p.IsPremium, &p.CreatedAt, &p.LastLoginAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.LastLoginAt = p.LastLoginAt.UTC()
	return &p, nil
}
