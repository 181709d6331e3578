package repository

import (
	"context"
	"os"
	"strings"
	"testing"

	"tma-auth/internal/db"
	"tma-auth/internal/db/migrate"
)

const postgresTestSchema = "auth_principal_repo_test"

// TestPostgresRepository runs the shared contract against a real database. It needs DATABASE_URL.
func TestPostgresRepository(t *testing.T) {
	base := os.Getenv("DATABASE_URL")
	if base == "" {
		t.Skip("DATABASE_URL not set")
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	dsn := base + sep + "search_path=" + postgresTestSchema

	ctx := context.Background()
	if err := migrate.Run(ctx, dsn, postgresTestSchema, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+postgresTestSchema+" CASCADE")
		conn.Close()
	})

	runRepositoryContract(t, func(t *testing.T) Repository {
		if _, err := conn.ExecContext(ctx, "TRUNCATE principals CASCADE"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewPostgresRepository(conn)
	})
}
