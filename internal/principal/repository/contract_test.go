package repository

import (
	"context"
	"testing"
	"time"

	"tma-auth/internal/principal/domain"
)

var t0 = time.Unix(1700000000, 0).UTC()

// runRepositoryContract checks the behaviour every Repository backend must share.
// newRepo returns an empty repository for each subtest.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("UpsertInsertsThenGetByID", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		in := &domain.Principal{
			ID: "42", FirstName: "Ada", LastName: "Lovelace", Username: "ada",
			PhotoURL: "https://t.me/i/userpic/ada.jpg", LanguageCode: "en", IsPremium: true, LastLoginAt: t0,
		}
		if err := repo.Upsert(ctx, in); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := repo.GetByID(ctx, "42")
		if err != nil || got == nil {
			t.Fatalf("GetByID = %v, %v", got, err)
		}
		if got.FirstName != "Ada" || got.LastName != "Lovelace" || got.Username != "ada" ||
			got.PhotoURL != in.PhotoURL || got.LanguageCode != "en" || !got.IsPremium {
			t.Errorf("fields not stored: %+v", got)
		}
		if !got.CreatedAt.Equal(t0) || !got.LastLoginAt.Equal(t0) {
			t.Errorf("CreatedAt = %v, LastLoginAt = %v; want both %v", got.CreatedAt, got.LastLoginAt, t0)
		}
	})

	t.Run("UpsertRefreshesButKeepsCreatedAt", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		if err := repo.Upsert(ctx, &domain.Principal{ID: "42", FirstName: "Ada", IsPremium: true, LastLoginAt: t0}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		second := t0.Add(time.Hour)
		if err := repo.Upsert(ctx, &domain.Principal{ID: "42", FirstName: "Ada L.", Username: "ada", LastLoginAt: second}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		p, err := repo.GetByID(ctx, "42")
		if err != nil || p == nil {
			t.Fatalf("GetByID = %v, %v", p, err)
		}
		if p.FirstName != "Ada L." || p.Username != "ada" || p.IsPremium {
			t.Errorf("display fields not refreshed: %+v", p)
		}
		if !p.CreatedAt.Equal(t0) {
			t.Errorf("CreatedAt = %v, want first login %v", p.CreatedAt, t0)
		}
		if !p.LastLoginAt.Equal(second) {
			t.Errorf("LastLoginAt = %v, want %v", p.LastLoginAt, second)
		}
	})

	t.Run("GetByIDMissing", func(t *testing.T) {
		repo := newRepo(t)
		missing, err := repo.GetByID(context.Background(), "7")
		if err != nil || missing != nil {
			t.Errorf("GetByID(missing) = %v, %v; want nil, nil", missing, err)
		}
	})
}
