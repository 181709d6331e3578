package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"tma-auth/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory. It is for tests and local tooling only:
// it is not shared across instances.
type MemoryRepository struct {
	mu    sync.Mutex
	m     map[string]*domain.Session
	grace time.Duration
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository(grace time.Duration) *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Session), grace: grace}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return unavailable("create", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[s.ID]; ok {
		return ErrDuplicateID
	}
	s2 := *s
	s2.Generation = 0
	s2.RotatedAt, s2.RevokedAt, s2.RevokeReason = nil, nil, ""
	r.m[s.ID] = &s2
	s.Generation = 0
	return nil
}

func (r *MemoryRepository) GetActive(ctx context.Context, id string, now time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || !s.ActiveAt(now, r.grace) {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (r *MemoryRepository) Rotate(ctx context.Context, rot domain.Rotation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("rotate", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[rot.SessionID]
	if !ok || !s.ActiveAt(rot.Now, r.grace) || s.Generation != rot.ExpectedGeneration {
		return 0, ErrConflict
	}
	now := rot.Now
	s.Generation++
	s.RefreshTokenHash = rot.NewRefreshHash
	s.ExpiresAt = rot.NewExpiresAt
	s.RotatedAt = &now
	return s.Generation, nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return unavailable("revoke", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
		s.RevokeReason = reason
	}
	return nil
}

func (r *MemoryRepository) ListByPrincipal(ctx context.Context, principalID string) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.m {
		if s.PrincipalID == principalID {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("delete expired", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.m {
		if s.ExpiresAt.Before(before) {
			delete(r.m, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Get returns the stored record regardless of state, for test assertions.
func (r *MemoryRepository) Get(id string) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil, false
	}
	return copySession(s), true
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	if s.RotatedAt != nil {
		t := *s.RotatedAt
		c.RotatedAt = &t
	}
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
