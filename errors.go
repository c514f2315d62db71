package engine

import (
	"errors"

	"github.com/samthomson/universed-sub001/internal/shardqueue"
	"github.com/samthomson/universed-sub001/internal/stream"
)

// ErrNoIdentity is returned when a mutation API is called without a
// configured local key. This is a programmer error, not a network state.
var ErrNoIdentity = errors.New("no local identity configured")

// ErrNotAuthorized is returned when the local user lacks the role or policy
// access a write requires. It is user-facing and never retried automatically.
var ErrNotAuthorized = errors.New("not authorized")

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine closed")

// ErrBackPressure is the sentinel for a full internal queue.
var ErrBackPressure = shardqueue.ErrQueueFull

// ErrChannelNotOpen is re-exported so callers compare against one symbol.
var ErrChannelNotOpen = stream.ErrChannelNotOpen

// IsBackPressure reports whether err means the per-channel queue was full.
func IsBackPressure(err error) bool { return errors.Is(err, ErrBackPressure) }
