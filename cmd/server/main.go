// server runs the Telegram Mini App auth API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"tma-auth/internal/audit"
	auditrepo "tma-auth/internal/audit/repository"
	"tma-auth/internal/bootstrap"
	"tma-auth/internal/config"
	healthhandler "tma-auth/internal/health/handler"
	"tma-auth/internal/identity/service"
	"tma-auth/internal/logger"
	principalrepo "tma-auth/internal/principal/repository"
	"tma-auth/internal/security"
	"tma-auth/internal/server"
	"tma-auth/internal/server/middleware"
	"tma-auth/internal/telegram"
	"tma-auth/internal/telemetry"
	telemetryotel "tma-auth/internal/telemetry/otel"
)

const serviceName = "tma-auth"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.Env).With(zap.String("env", cfg.Env))
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Environment: cfg.Env,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()
	metrics, err := telemetry.NewAuthMetrics(otel.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	conn, err := bootstrap.OpenDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	sessions, closeSessions, err := bootstrap.SessionStore(cfg, conn)
	if err != nil {
		return err
	}
	defer func() { _ = closeSessions() }()

	env := cfg.Environment
	fingerprints, err := security.NewFingerprinter(env.RefreshSecret.Bytes())
	if err != nil {
		return fmt.Errorf("fingerprinter: %w", err)
	}
	tokens, err := security.NewIssuer(security.IssuerConfig{
		AccessSecret:  env.AccessSecret.Bytes(),
		RefreshSecret: env.RefreshSecret.Bytes(),
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.Audience(),
		AccessTTL:     cfg.AccessTTL(),
		RefreshTTL:    cfg.RefreshTTL(),
	})
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	verifier, err := telegram.NewVerifier(env.BotToken.Value(), telegram.Scheme(cfg.TelegramLoginScheme), cfg.AuthMaxAge())
	if err != nil {
		return fmt.Errorf("telegram verifier: %w", err)
	}

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), middleware.ClientIP, log)
	svc := service.NewAuthService(verifier, principalrepo.NewPostgresRepository(conn), sessions, tokens, fingerprints,
		service.WithAuditLogger(auditLogger),
		service.WithEventEmitter(telemetryotel.NewEventEmitter(providers.LoggerProvider)),
		service.WithMetrics(metrics),
		service.WithLogger(logger.WithComponent(log, "auth")),
		service.WithStoreTimeout(cfg.StoreCallTimeout()),
	)

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.Deps{
		ServiceName: serviceName,
		Auth:        svc,
		Sessions:    svc,
		Tokens:      tokens,
		Checks:      map[string]healthhandler.Pinger{"sessions": sessions, "database": healthhandler.PingFunc(conn.PingContext)},
		AdminKey:    cfg.AdminAPIKey.Value(),
		Log:         log,
	})

	log.Info("starting",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("session_backend", cfg.SessionBackend),
		zap.String("login_scheme", cfg.TelegramLoginScheme),
		zap.String("schema", env.DatabaseSchema),
		zap.Bool("admin_api", cfg.AdminAPIKey != ""),
	)
	err = server.Serve(ctx, cfg.HTTPAddr, router, log)
	auditLogger.Wait()
	if err != nil {
		return err
	}
	if cfg.OTLPEndpoint != "" {
		// In-flight async emits must land before the deferred provider shutdown.
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	return nil
}
