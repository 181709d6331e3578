package repository

import (
	"context"

	"tma-auth/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByPrincipal(ctx context.Context, principalID string, limit int32) ([]*domain.AuditLog, error)
}
