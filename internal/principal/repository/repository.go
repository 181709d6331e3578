package repository

import (
	"context"

	"tma-auth/internal/principal/domain"
)

// Repository defines persistence for principals.
type Repository interface {
	// Upsert inserts the principal or, when it exists, refreshes its display fields and LastLoginAt.
	// CreatedAt of an existing principal is never changed.
	Upsert(ctx context.Context, p *domain.Principal) error
	// GetByID returns the principal for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
}
