// Package config loads sync engine settings from PORTAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/portal-sync/pkg/domain"
	"github.com/caarlos0/env/v11"
)

// Push transport modes.
const (
	PushModeWebSocket = "websocket"
	PushModeSSE       = "sse"
	PushModeOff       = "off"
)

// Config holds the engine configuration.
type Config struct {
	// APIBaseURL is joined with every request path.
	APIBaseURL string `env:"PORTAL_API_BASE_URL" envDefault:"http://localhost:8000/api"`

	// PushURL is the WebSocket (ws://, wss://) or SSE (http://, https://) endpoint.
	PushURL  string `env:"PORTAL_PUSH_URL"`
	PushMode string `env:"PORTAL_PUSH_MODE" envDefault:"websocket"`

	// Families lists the entity families kept in sync.
	Families []string `env:"PORTAL_FAMILIES" envSeparator:"," envDefault:"members,events,announcements,wars"`

	// Caching
	Freshness time.Duration `env:"PORTAL_FRESHNESS" envDefault:"30s"`

	// Polling
	PollInterval time.Duration `env:"PORTAL_POLL_INTERVAL" envDefault:"30s"`

	// Retry
	RetryDelay      time.Duration `env:"PORTAL_RETRY_DELAY" envDefault:"1s"`
	ReadMaxRetries  int           `env:"PORTAL_READ_MAX_RETRIES" envDefault:"3"`
	WriteMaxRetries int           `env:"PORTAL_WRITE_MAX_RETRIES" envDefault:"2"`

	// Reconnect
	ReconnectBase time.Duration `env:"PORTAL_RECONNECT_BASE" envDefault:"1s"`
	ReconnectCap  time.Duration `env:"PORTAL_RECONNECT_CAP" envDefault:"30s"`

	// RedisAddr enables the shared validator store when set.
	RedisAddr    string        `env:"PORTAL_REDIS_ADDR"`
	ValidatorTTL time.Duration `env:"PORTAL_VALIDATOR_TTL" envDefault:"1h"`

	// Logging
	LogLevel  string `env:"PORTAL_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"PORTAL_LOG_PRETTY" envDefault:"false"`

	// MetricsAddr is where the CLI serves /metrics and /health.
	MetricsAddr string `env:"PORTAL_METRICS_ADDR" envDefault:":9090"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	for i, f := range cfg.Families {
		cfg.Families[i] = strings.TrimSpace(f)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	} else if _, err := url.Parse(c.APIBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("api base url: %w", err))
	}

	switch c.PushMode {
	case PushModeWebSocket, PushModeSSE, PushModeOff:
	default:
		errs = append(errs, fmt.Errorf("unknown push mode %q", c.PushMode))
	}

	if len(c.Families) == 0 {
		errs = append(errs, errors.New("at least one family is required"))
	}
	for _, f := range c.Families {
		if _, err := domain.ParseFamily(f); err != nil {
			errs = append(errs, err)
		}
	}

	durations := map[string]time.Duration{
		"freshness":      c.Freshness,
		"poll interval":  c.PollInterval,
		"retry delay":    c.RetryDelay,
		"reconnect base": c.ReconnectBase,
		"reconnect cap":  c.ReconnectCap,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %s)", name, d))
		}
	}
	if c.ReconnectCap < c.ReconnectBase {
		errs = append(errs, fmt.Errorf("reconnect cap %s is below base %s", c.ReconnectCap, c.ReconnectBase))
	}
	if c.ReadMaxRetries < 0 || c.WriteMaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}

	return errors.Join(errs...)
}

// SyncedFamilies returns the configured families as domain values.
func (c Config) SyncedFamilies() ([]domain.Family, error) {
	return domain.ParseFamilies(c.Families)
}

// PushEnabled reports whether a push channel should be started.
func (c Config) PushEnabled() bool {
	return c.PushMode != PushModeOff && c.PushURL != ""
}
