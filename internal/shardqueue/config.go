package shardqueue

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config tunes the executor. The zero value is usable; NewShardExecutor
// fills in defaults.
type Config struct {
	// Shards is the number of worker goroutines. Every key maps to exactly
	// one shard, so Shards bounds cross-channel parallelism.
	Shards int `envconfig:"SHARDS" default:"4"`

	// QueueSize is the per-shard buffered channel capacity.
	QueueSize int `envconfig:"QUEUE_SIZE" default:"128"`

	// EnqueueTimeout bounds how long Submit blocks on a full shard before
	// returning a QueueFullError.
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`

	// MaxAttempts caps retries of a failing job before the error handler is
	// invoked and the job is abandoned.
	MaxAttempts int `envconfig:"MAX_ATTEMPTS" default:"8"`

	// BaseBackoff and MaxInterval shape the exponential retry backoff.
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"100ms"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"20s"`

	// ErrorHandler receives errors from jobs that exhausted their retries,
	// were cancelled, or failed irrecoverably. Optional.
	ErrorHandler func(error) `ignored:"true"`
}

// LoadConfig reads executor settings from UNIVERSED_SQ_* environment
// variables, falling back to the struct-tag defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("UNIVERSED_SQ", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
