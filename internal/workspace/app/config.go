package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
)

const (
	ModeRemote  = "remote"
	ModeOffline = "offline"
)

// Placeholders shipped in the example environment file. A config still
// carrying them was never filled in.
var placeholders = []string{"your_supabase_project_url", "your_supabase_anon_key"}

type Config struct {
	BaaSURL     string `env:"WORKSPACE_BAAS_URL"`
	BaaSAnonKey string `env:"WORKSPACE_BAAS_ANON_KEY"`

	// Mode is "remote" (BaaS backed) or "offline" (local database only).
	Mode                 string        `env:"WORKSPACE_MODE, default=remote"`
	AdminEmail           string        `env:"WORKSPACE_ADMIN_EMAIL, default=admin@workspace.local"`
	DatabaseFile         string        `env:"WORKSPACE_DATABASE_FILE, default=workspace.db"`
	SessionKey           string        `env:"WORKSPACE_SESSION_KEY"` // Optional: without it the session lives in memory only
	SessionTimeout       time.Duration `env:"WORKSPACE_SESSION_TIMEOUT, default=1500ms"`
	LoadingTimeout       time.Duration `env:"WORKSPACE_LOADING_TIMEOUT, default=2s"`
	ResetRedirectURL     string        `env:"WORKSPACE_RESET_REDIRECT_URL"`
	CORSOrigins          []string      `env:"WORKSPACE_CORS_ORIGINS"` // Optional: empty allows every origin
	HousekeepingInterval time.Duration `env:"WORKSPACE_HOUSEKEEPING_INTERVAL, default=1h"`

	Env                 string        `env:"ENV, default=dev"`
	LogLevel            string        `env:"LOG_LEVEL, default=info"`
	LogFormat           string        `env:"LOG_FORMAT, default=json"`
	Port                int           `env:"PORT, default=8080"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD, default=10s"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// LoadConfig reads the environment, after loading .env when present.
func LoadConfig(ctx context.Context) (Config, error) {
	_ = godotenv.Load(".env")
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	return cfg, nil
}

// Validate reports every problem at once. All of them match
// domain.ErrConfig.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrConfig}, args...)...))
	}

	switch c.Mode {
	case ModeOffline:
	case ModeRemote:
		switch {
		case c.BaaSURL == "":
			add("WORKSPACE_BAAS_URL is required in remote mode")
		case isPlaceholder(c.BaaSURL):
			add("WORKSPACE_BAAS_URL still holds the example placeholder")
		default:
			if u, err := url.Parse(c.BaaSURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add("WORKSPACE_BAAS_URL must be an http(s) URL")
			}
		}
		switch {
		case c.BaaSAnonKey == "":
			add("WORKSPACE_BAAS_ANON_KEY is required in remote mode")
		case isPlaceholder(c.BaaSAnonKey):
			add("WORKSPACE_BAAS_ANON_KEY still holds the example placeholder")
		}
	default:
		add("WORKSPACE_MODE must be %q or %q, got %q", ModeRemote, ModeOffline, c.Mode)
	}

	if !strings.Contains(c.AdminEmail, "@") {
		add("WORKSPACE_ADMIN_EMAIL must be an email address")
	}
	if c.Port <= 0 || c.Port > 65535 {
		add("PORT out of range: %d", c.Port)
	}
	return errors.Join(errs...)
}

func isPlaceholder(v string) bool {
	for _, p := range placeholders {
		if strings.Contains(v, p) {
			return true
		}
	}
	return false
}
