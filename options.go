package engine

// This file defines functional options that configure the Engine during
// construction. Keeping them in a standalone file makes it easy to discover
// all available knobs at a glance.

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/samthomson/universed-sub001/internal/shardqueue"
	"github.com/samthomson/universed-sub001/internal/source"
)

// Option configures an Engine during construction in New.
// Options must be deterministic and side-effect free.
type Option func(*Engine) error

// WithLogger replaces the engine's logger. The default writes JSON to
// stdout with a service field, matching the rest of the stack.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) error {
		e.log = log
		return nil
	}
}

// WithSource injects the event source, bypassing relay connections
// entirely. Used by tests and by embedders that manage their own transport.
func WithSource(src source.Source) Option {
	return func(e *Engine) error {
		if src == nil {
			return fmt.Errorf("source must not be nil")
		}
		e.src = src
		return nil
	}
}

// WithClock injects the local clock used for FirstObservedAt stamps and
// staleness checks. Tests use it to control time.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		if clock == nil {
			return fmt.Errorf("clock must not be nil")
		}
		e.clock = clock
		return nil
	}
}

// WithExecutorConfig tunes the per-channel serialized executor.
func WithExecutorConfig(cfg shardqueue.Config) Option {
	return func(e *Engine) error {
		e.execCfg = &cfg
		return nil
	}
}
