package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tma-auth/internal/session/domain"
)

func newRedisRepositoryTest(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	mr.SetTime(t0)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisRepository(rdb, "tma:dev", testGrace), mr
}

func TestRedisRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		repo, _ := newRedisRepositoryTest(t)
		return repo
	})
}

func TestRedisRepository_KeysExpireAfterGrace(t *testing.T) {
	repo, mr := newRedisRepositoryTest(t)
	s := newTestSession("42", t0)
	mustCreate(t, repo, s)

	key := "tma:dev:session:" + s.ID
	if !mr.Exists(key) {
		t.Fatalf("session key %q not written", key)
	}
	if ttl := mr.TTL(key); ttl != 25*time.Hour {
		t.Errorf("TTL = %v, want expiry plus grace", ttl)
	}
	mr.FastForward(25*time.Hour + time.Second)
	if mr.Exists(key) {
		t.Error("session key should expire after expiry plus grace")
	}

	list, err := repo.ListByPrincipal(context.Background(), "42")
	if err != nil {
		t.Fatalf("ListByPrincipal: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expired session listed: %+v", list)
	}
	if ok, _ := mr.IsMember("tma:dev:principal:42", s.ID); ok {
		t.Error("stale id should be pruned from the principal index")
	}
}

func TestRedisRepository_RotateExtendsTTL(t *testing.T) {
	repo, mr := newRedisRepositoryTest(t)
	s := newTestSession("42", t0)
	mustCreate(t, repo, s)

	_, err := repo.Rotate(context.Background(), domain.Rotation{
		SessionID: s.ID, ExpectedGeneration: 0, NewRefreshHash: "fp-1",
		NewExpiresAt: t0.Add(72 * time.Hour), Now: t0,
	})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if ttl := mr.TTL("tma:dev:session:" + s.ID); ttl != 73*time.Hour {
		t.Errorf("TTL after rotate = %v, want 73h", ttl)
	}
}

func TestRedisRepository_NamespacesDoNotOverlap(t *testing.T) {
	dev, mr := newRedisRepositoryTest(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	prod := NewRedisRepository(rdb, "tma:prod", testGrace)

	s := newTestSession("42", t0)
	mustCreate(t, dev, s)
	if _, err := prod.GetActive(context.Background(), s.ID, t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("prod namespace sees dev session: %v", err)
	}
}

func TestRedisRepository_Unavailable(t *testing.T) {
	repo, mr := newRedisRepositoryTest(t)
	mr.Close()

	ctx := context.Background()
	if err := repo.Create(ctx, newTestSession("42", t0)); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Create: want ErrStoreUnavailable, got %v", err)
	}
	if _, err := repo.GetActive(ctx, "x", t0); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("GetActive: want ErrStoreUnavailable, got %v", err)
	}
	if _, err := repo.Rotate(ctx, domain.Rotation{SessionID: "x", Now: t0}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Rotate: want ErrStoreUnavailable, got %v", err)
	}
	if err := repo.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Ping: want ErrStoreUnavailable, got %v", err)
	}
}

func TestRedisRepository_DeleteExpiredIsNoop(t *testing.T) {
	repo, _ := newRedisRepositoryTest(t)
	n, err := repo.DeleteExpired(context.Background(), t0)
	if err != nil || n != 0 {
		t.Errorf("DeleteExpired = %d, %v", n, err)
	}
}
