// Package bootstrap opens the stores shared by the server and the sweeper.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tma-auth/internal/config"
	"tma-auth/internal/db"
	"tma-auth/internal/db/migrate"
	sessionrepo "tma-auth/internal/session/repository"
)

// OpenDatabase connects to the environment's Postgres namespace, applying migrations first when
// cfg.MigrateOnStart is set.
func OpenDatabase(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sql.DB, error) {
	dsn := cfg.Environment.DSN()
	if cfg.MigrateOnStart {
		if err := migrate.Run(ctx, dsn, cfg.Environment.DatabaseSchema, "up"); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied", zap.String("schema", cfg.Environment.DatabaseSchema))
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return conn, nil
}

// RedisPrefix namespaces every Redis key by environment so dev and prod never share records.
func RedisPrefix(env string) string {
	return "tma:" + env
}

// SessionStore returns the session repository selected by cfg.SessionBackend. The returned func releases
// resources the store owns; it does not close conn.
func SessionStore(cfg *config.Config, conn *sql.DB) (sessionrepo.Repository, func() error, error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: REDIS_URL: %v", config.ErrConfiguration, err)
		}
		rdb := redis.NewClient(opts)
		return sessionrepo.NewRedisRepository(rdb, RedisPrefix(cfg.Env), cfg.GracePeriod()), rdb.Close, nil
	default:
		return sessionrepo.NewPostgresRepository(conn, cfg.GracePeriod()), func() error { return nil }, nil
	}
}
