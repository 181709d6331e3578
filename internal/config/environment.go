package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Secret is a string that never prints its value. Use Value to read it.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string { return s.String() }

// MarshalText keeps JSON and zap reflection encoders from leaking the value.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// Bytes returns the raw secret as bytes.
func (s Secret) Bytes() []byte { return []byte(s) }

// Environment holds everything that must differ between deployment environments.
type Environment struct {
	Name          string
	AccessSecret  Secret
	RefreshSecret Secret
	BotToken      Secret
	// DatabaseURL is the Postgres endpoint; it may embed credentials and is treated as a secret.
	DatabaseURL Secret
	// DatabaseSchema is the namespace (search_path) holding this environment's tables.
	DatabaseSchema string
}

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// envKey returns the per-environment key, e.g. envKey("ACCESS_TOKEN_SECRET", "dev") = "ACCESS_TOKEN_SECRET_DEV".
func envKey(base, env string) string {
	return base + "_" + strings.ToUpper(env)
}

func otherEnv(env string) string {
	if env == EnvProd {
		return EnvDev
	}
	return EnvProd
}

func schemaFor(v *viper.Viper, env string) string {
	if s := strings.TrimSpace(v.GetString(envKey("DATABASE_SCHEMA", env))); s != "" {
		return s
	}
	return "auth_" + env
}

// resolveEnvironment returns the secrets and database namespace for env. It fails closed: every
// required key must be present and non-empty, and no secret or namespace may be shared with the
// other environment. Errors name the key, never its value.
func resolveEnvironment(v *viper.Viper, env string) (Environment, error) {
	required := func(base string) (Secret, error) {
		key := envKey(base, env)
		val := strings.TrimSpace(v.GetString(key))
		if val == "" {
			return "", fmt.Errorf("%w: %s must be set", ErrConfiguration, key)
		}
		return Secret(val), nil
	}

	out := Environment{Name: env}
	var err error
	if out.AccessSecret, err = required("ACCESS_TOKEN_SECRET"); err != nil {
		return Environment{}, err
	}
	if out.RefreshSecret, err = required("REFRESH_TOKEN_SECRET"); err != nil {
		return Environment{}, err
	}
	if out.BotToken, err = required("TELEGRAM_BOT_TOKEN"); err != nil {
		return Environment{}, err
	}
	if out.DatabaseURL, err = required("DATABASE_URL"); err != nil {
		return Environment{}, err
	}
	out.DatabaseSchema = schemaFor(v, env)
	if !schemaPattern.MatchString(out.DatabaseSchema) {
		return Environment{}, fmt.Errorf("%w: %s must be a lower-case identifier", ErrConfiguration, envKey("DATABASE_SCHEMA", env))
	}

	if len(out.AccessSecret) < minSecretLen {
		return Environment{}, fmt.Errorf("%w: %s must be at least %d bytes", ErrConfiguration, envKey("ACCESS_TOKEN_SECRET", env), minSecretLen)
	}
	if len(out.RefreshSecret) < minSecretLen {
		return Environment{}, fmt.Errorf("%w: %s must be at least %d bytes", ErrConfiguration, envKey("REFRESH_TOKEN_SECRET", env), minSecretLen)
	}
	if out.AccessSecret == out.RefreshSecret {
		return Environment{}, fmt.Errorf("%w: access and refresh secrets for %s must differ", ErrConfiguration, env)
	}

	// The other environment's values are optional here, but when present they must not collide.
	other := otherEnv(env)
	for _, base := range []string{"ACCESS_TOKEN_SECRET", "REFRESH_TOKEN_SECRET", "TELEGRAM_BOT_TOKEN"} {
		mine := strings.TrimSpace(v.GetString(envKey(base, env)))
		theirs := strings.TrimSpace(v.GetString(envKey(base, other)))
		if theirs != "" && theirs == mine {
			return Environment{}, fmt.Errorf("%w: %s and %s must differ", ErrConfiguration, envKey(base, env), envKey(base, other))
		}
	}
	for _, base := range []string{"ACCESS_TOKEN_SECRET", "REFRESH_TOKEN_SECRET"} {
		theirs := strings.TrimSpace(v.GetString(envKey(base, other)))
		if theirs != "" && (theirs == out.AccessSecret.Value() || theirs == out.RefreshSecret.Value()) {
			return Environment{}, fmt.Errorf("%w: %s is reused by %s", ErrConfiguration, envKey(base, other), env)
		}
	}
	otherURL := strings.TrimSpace(v.GetString(envKey("DATABASE_URL", other)))
	if otherURL != "" && otherURL == out.DatabaseURL.Value() && schemaFor(v, other) == out.DatabaseSchema {
		return Environment{}, fmt.Errorf("%w: %s and %s share a database namespace", ErrConfiguration, env, other)
	}

	return out, nil
}

// DSN returns the database URL with search_path pinned to the environment's schema.
// Both URL (postgres://...) and keyword/value DSNs are supported.
func (e Environment) DSN() string {
	raw := e.DatabaseURL.Value()
	if raw == "" || e.DatabaseSchema == "" {
		return raw
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return raw
		}
		q := u.Query()
		q.Set("search_path", e.DatabaseSchema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return raw + " search_path=" + e.DatabaseSchema
}
