package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"tma-auth/internal/session/domain"
	sessionrepo "tma-auth/internal/session/repository"
)

func TestSweep_DeletesOnlyPastGrace(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	grace := 24 * time.Hour
	repo := sessionrepo.NewMemoryRepository(grace)
	ctx := context.Background()

	mk := func(id string, expires time.Time) {
		if err := repo.Create(ctx, &domain.Session{
			ID: id, PrincipalID: "42", RefreshTokenHash: "fp", IssuedAt: expires.Add(-720 * time.Hour), ExpiresAt: expires,
		}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	mk("long-gone", now.Add(-48*time.Hour))
	mk("in-grace", now.Add(-time.Hour))
	mk("live", now.Add(time.Hour))

	s := &sweeper{sessions: repo, grace: grace, timeout: time.Second, now: func() time.Time { return now }, log: zap.NewNop()}
	n, err := s.sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, ok := repo.Get("long-gone"); ok {
		t.Error("long-gone should be deleted")
	}
	for _, id := range []string{"in-grace", "live"} {
		if _, ok := repo.Get(id); !ok {
			t.Errorf("%s should be kept", id)
		}
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	repo := sessionrepo.NewMemoryRepository(0)
	s := &sweeper{sessions: repo, grace: 0, timeout: time.Second, now: time.Now, log: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.loop(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
