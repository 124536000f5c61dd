// Package config loads service configuration from built-in defaults
// overridden by DEALDESK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DEALDESK_"

// DefaultAuthSecret is the development fallback signing secret. Running
// production with this value is a fatal misconfiguration.
const DefaultAuthSecret = "dev-secret-change-me"

// ErrMisconfiguration marks configuration states that must halt startup.
var ErrMisconfiguration = errors.New("config: misconfiguration")

// Config holds all runtime settings. List-valued settings are kept as
// comma-separated strings so they can be overridden from a single
// environment variable; use the accessor methods.
type Config struct {
	Addr        string `koanf:"addr"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	AuthSecret    string `koanf:"auth_secret"`
	TokenTTLHours int    `koanf:"token_ttl_hours"`

	AllowedOrigins string `koanf:"allowed_origins"`
	AllowedAgents  string `koanf:"allowed_agents"`

	RatePerMinute      int  `koanf:"rate_per_minute"`
	LoginRatePerMinute int  `koanf:"login_rate_per_minute"`
	CSRFEnabled        bool `koanf:"csrf_enabled"`

	PGDSN string `koanf:"pg_dsn"`
}

func defaults() Config {
	return Config{
		Addr:               ":8080",
		Environment:        "development",
		LogLevel:           "info",
		AuthSecret:         DefaultAuthSecret,
		TokenTTLHours:      7 * 24,
		AllowedOrigins:     "http://localhost:3000,http://localhost:5173",
		AllowedAgents:      "mozilla,chrome,safari,firefox,edg,opera",
		RatePerMinute:      60,
		LoginRatePerMinute: 10,
		CSRFEnabled:        true,
	}
}

// Load builds the configuration from defaults plus environment overrides.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}
	err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		return strings.ToLower(strings.TrimPrefix(key, envPrefix))
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// TokenTTL returns the session token lifetime.
func (c Config) TokenTTL() time.Duration {
	if c.TokenTTLHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// Origins returns the origin allowlist.
func (c Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

// Agents returns the allowed user-agent signature substrings (lower-cased).
func (c Config) Agents() []string {
	out := splitList(c.AllowedAgents)
	for i, v := range out {
		out[i] = strings.ToLower(v)
	}
	return out
}

// Validate checks invariants that must hold before the server starts.
// In production a placeholder signing secret or a missing warehouse DSN is
// fatal rather than silently degraded.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr is empty", ErrMisconfiguration)
	}
	if c.RatePerMinute <= 0 {
		return fmt.Errorf("%w: rate_per_minute must be positive", ErrMisconfiguration)
	}
	if !c.IsProduction() {
		return nil
	}
	secret := strings.TrimSpace(c.AuthSecret)
	if secret == "" || secret == DefaultAuthSecret {
		return fmt.Errorf("%w: auth_secret is unset or left at the development placeholder", ErrMisconfiguration)
	}
	if strings.TrimSpace(c.PGDSN) == "" {
		return fmt.Errorf("%w: pg_dsn is required in production", ErrMisconfiguration)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
