package repository

import (
	"context"
	"sync"

	"tma-auth/internal/principal/domain"
)

// MemoryRepository is an in-process principal store used by tests.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]domain.Principal
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.Principal)}
}

func (r *MemoryRepository) Upsert(ctx context.Context, p *domain.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := *p
	if cur, ok := r.m[p.ID]; ok {
		next.CreatedAt = cur.CreatedAt
	} else {
		next.CreatedAt = p.LastLoginAt
	}
	r.m[p.ID] = next
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
