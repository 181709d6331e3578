// sweeper deletes session records that are past expiry plus the grace period.
// It runs every SWEEP_INTERVAL until interrupted, or once with -once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tma-auth/internal/bootstrap"
	"tma-auth/internal/config"
	"tma-auth/internal/logger"
	sessionrepo "tma-auth/internal/session/repository"
)

func main() {
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.WithComponent(logger.New(cfg.LogLevel, cfg.Env), "sweeper").With(zap.String("env", cfg.Env))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := bootstrap.OpenDatabase(ctx, cfg, log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer conn.Close()
	sessions, closeSessions, err := bootstrap.SessionStore(cfg, conn)
	if err != nil {
		log.Fatal("session store", zap.Error(err))
	}
	defer func() { _ = closeSessions() }()

	s := &sweeper{
		sessions: sessions,
		grace:    cfg.GracePeriod(),
		timeout:  cfg.StoreCallTimeout() * 10,
		now:      time.Now,
		log:      log,
	}
	if *once {
		if _, err := s.sweep(ctx); err != nil {
			os.Exit(1)
		}
		return
	}
	log.Info("sweeping", zap.Duration("interval", cfg.SweepEvery()), zap.Duration("grace", s.grace))
	s.loop(ctx, cfg.SweepEvery())
	log.Info("stopped")
}

type sweeper struct {
	sessions sessionrepo.Repository
	grace    time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// sweep removes sessions whose expiry is older than now minus grace.
func (s *sweeper) sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cutoff := s.now().UTC().Add(-s.grace)
	n, err := s.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		s.log.Error("sweep failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	s.log.Info("sweep done", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

func (s *sweeper) loop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	_, _ = s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.sweep(ctx)
		}
	}
}
