// Package config loads and validates app config from env and an optional .env file using Viper.
//
// Per-environment values (signing secrets, bot token, database) are read from keys
// suffixed with the upper-cased environment tag, e.g. ACCESS_TOKEN_SECRET_DEV.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfiguration is wrapped by every validation failure returned from Load.
// It is fatal at startup; the service must not serve traffic with partial config.
var ErrConfiguration = errors.New("configuration error")

// Environment tags.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Session store backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Telegram login-data schemes.
const (
	SchemeWebApp = "webapp"
	SchemeWidget = "widget"
)

// minSecretLen is the minimum length in bytes of an HS256 signing secret.
const minSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the deployment environment tag: "dev" or "prod".
	Env string `mapstructure:"APP_ENV"`
	// JWTIssuer is the iss claim set on every token.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud prefix; the environment tag is appended so tokens never cross environments.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "720h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// TelegramAuthMaxAge is how old auth_date may be before a login payload is stale.
	TelegramAuthMaxAge string `mapstructure:"TELEGRAM_AUTH_MAX_AGE"`
	// TelegramLoginScheme selects the key derivation: "webapp" (Mini App initData) or "widget" (Login Widget).
	TelegramLoginScheme string `mapstructure:"TELEGRAM_LOGIN_SCHEME"`
	// SessionBackend is "postgres" or "redis".
	SessionBackend string `mapstructure:"SESSION_BACKEND"`
	// RedisURL is required when SessionBackend is redis (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// SessionGracePeriod is how long past expiry a record is kept before the sweeper removes it.
	SessionGracePeriod string `mapstructure:"SESSION_GRACE_PERIOD"`
	// StoreTimeout bounds each session store call. A timeout is reported as store-unavailable.
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// AdminAPIKey enables POST /admin/sessions/:id/revoke when non-empty.
	AdminAPIKey Secret `mapstructure:"ADMIN_API_KEY"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// SweepInterval is how often cmd/sweeper removes expired sessions.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// MigrateOnStart applies embedded migrations before the server starts serving.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`

	// Environment holds the secrets and database namespace resolved for Env.
	Environment Environment `mapstructure:"-"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Every returned error wraps ErrConfiguration.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", EnvDev)
	v.SetDefault("JWT_ISSUER", "tma-auth")
	v.SetDefault("JWT_AUDIENCE", "tma-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("TELEGRAM_AUTH_MAX_AGE", "24h")
	v.SetDefault("TELEGRAM_LOGIN_SCHEME", SchemeWebApp)
	v.SetDefault("SESSION_BACKEND", BackendPostgres)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SESSION_GRACE_PERIOD", "24h")
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("ADMIN_API_KEY", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("MIGRATE_ON_START", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	env, err := NormalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}
	cfg.Env = env

	if cfg.HTTPAddr == "" {
		return nil, fmt.Errorf("%w: HTTP_ADDR must be set", ErrConfiguration)
	}
	switch cfg.TelegramLoginScheme {
	case SchemeWebApp, SchemeWidget:
	default:
		return nil, fmt.Errorf("%w: TELEGRAM_LOGIN_SCHEME must be %q or %q", ErrConfiguration, SchemeWebApp, SchemeWidget)
	}
	switch cfg.SessionBackend {
	case BackendPostgres:
	case BackendRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, fmt.Errorf("%w: REDIS_URL must be set when SESSION_BACKEND=redis", ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("%w: SESSION_BACKEND must be %q or %q", ErrConfiguration, BackendPostgres, BackendRedis)
	}
	for key, val := range map[string]string{
		"JWT_ACCESS_TTL":        cfg.JWTAccessTTL,
		"JWT_REFRESH_TTL":       cfg.JWTRefreshTTL,
		"TELEGRAM_AUTH_MAX_AGE": cfg.TelegramAuthMaxAge,
		"SESSION_GRACE_PERIOD":  cfg.SessionGracePeriod,
		"STORE_TIMEOUT":         cfg.StoreTimeout,
		"SWEEP_INTERVAL":        cfg.SweepInterval,
	} {
		if d, err := time.ParseDuration(val); err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %s must be a positive duration", ErrConfiguration, key)
		}
	}
	if cfg.AccessTTL() >= cfg.RefreshTTL() {
		return nil, fmt.Errorf("%w: JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL", ErrConfiguration)
	}

	resolved, err := resolveEnvironment(v, env)
	if err != nil {
		return nil, err
	}
	cfg.Environment = resolved

	return &cfg, nil
}

// NormalizeEnv maps an environment tag (or a common alias) to EnvDev or EnvProd.
func NormalizeEnv(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local":
		return EnvDev, nil
	case "prod", "production":
		return EnvProd, nil
	default:
		return "", fmt.Errorf("%w: APP_ENV %q is not a known environment", ErrConfiguration, env)
	}
}

// Audience returns the aud claim for this environment, e.g. "tma-api:prod".
func (c *Config) Audience() string {
	return c.JWTAudience + ":" + c.Env
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 30*24*time.Hour)
}

// AuthMaxAge parses TelegramAuthMaxAge. Returns 24h if unset or invalid.
func (c *Config) AuthMaxAge() time.Duration {
	return parseDuration(c.TelegramAuthMaxAge, 24*time.Hour)
}

// GracePeriod parses SessionGracePeriod. Returns 24h if unset or invalid.
func (c *Config) GracePeriod() time.Duration {
	return parseDuration(c.SessionGracePeriod, 24*time.Hour)
}

// StoreCallTimeout parses StoreTimeout. Returns 3s if unset or invalid.
func (c *Config) StoreCallTimeout() time.Duration {
	return parseDuration(c.StoreTimeout, 3*time.Second)
}

// SweepEvery parses SweepInterval. Returns 1h if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, time.Hour)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
