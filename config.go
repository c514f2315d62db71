package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the engine's configuration.
// Environment variables are parsed from the UNIVERSED_ prefix.
type Config struct {
	// Relays are the relay URLs queried and subscribed to. Ignored when a
	// custom Source is injected via WithSource.
	Relays []string `envconfig:"RELAYS"`

	// LocalKey is the local user's public key. Required for optimistic
	// sends and identity-based access checks; read paths work without it.
	LocalKey string `envconfig:"LOCAL_KEY"`

	// DefaultChannel receives messages published without a channel tag.
	DefaultChannel string `envconfig:"DEFAULT_CHANNEL" default:"general"`

	// QueryTimeout bounds each historical relay query.
	QueryTimeout time.Duration `envconfig:"QUERY_TIMEOUT" default:"4s"`

	// RefreshInterval is how old directory state (communities, folders,
	// spaces, lists) may grow before a read triggers a background refresh.
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"5m"`

	// RefreshTimeout bounds one background refresh run.
	RefreshTimeout time.Duration `envconfig:"REFRESH_TIMEOUT" default:"10s"`

	// ReconcileWindow is the timestamp window for matching an optimistic
	// message to its authoritative echo.
	ReconcileWindow time.Duration `envconfig:"RECONCILE_WINDOW" default:"30s"`

	// OptimisticTimeout is how long a pending send may wait for its echo
	// before surfacing as unconfirmed.
	OptimisticTimeout time.Duration `envconfig:"OPTIMISTIC_TIMEOUT" default:"10s"`

	// HistoryLimit caps the historical fetch per channel.
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"200"`
}

// LoadConfig reads engine settings from UNIVERSED_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("UNIVERSED", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment variables: %w", err)
	}
	return cfg, nil
}

// NewConfigForTesting returns a config with short timeouts suited to tests.
func NewConfigForTesting() Config {
	return Config{
		DefaultChannel:    "general",
		QueryTimeout:      time.Second,
		RefreshInterval:   time.Minute,
		RefreshTimeout:    time.Second,
		ReconcileWindow:   30 * time.Second,
		OptimisticTimeout: 100 * time.Millisecond,
		HistoryLimit:      200,
	}
}

func (c *Config) applyDefaults() {
	if c.DefaultChannel == "" {
		c.DefaultChannel = "general"
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 4 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 10 * time.Second
	}
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = 30 * time.Second
	}
	if c.OptimisticTimeout <= 0 {
		c.OptimisticTimeout = 10 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
}
