package source

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	enginerrors "github.com/samthomson/universed-sub001/internal/errors"
)

// RelaySource fans queries and subscriptions out to a fixed set of relay
// URLs. Connections are established lazily and reused; a relay that cannot
// be reached is skipped rather than failing the whole call, since relays are
// only partially trusted and partially available by assumption.
type RelaySource struct {
	urls         []string
	queryTimeout time.Duration
	log          zerolog.Logger

	mu     sync.Mutex
	relays map[string]*nostr.Relay
}

// NewRelaySource constructs a RelaySource. queryTimeout bounds each
// historical query per relay; zero means 4s.
func NewRelaySource(urls []string, queryTimeout time.Duration, log zerolog.Logger) *RelaySource {
	if queryTimeout <= 0 {
		queryTimeout = 4 * time.Second
	}
	return &RelaySource{
		urls:         urls,
		queryTimeout: queryTimeout,
		log:          log,
		relays:       make(map[string]*nostr.Relay),
	}
}

func (r *RelaySource) relay(ctx context.Context, url string) (*nostr.Relay, error) {
	r.mu.Lock()
	if rl, ok := r.relays[url]; ok {
		r.mu.Unlock()
		return rl, nil
	}
	r.mu.Unlock()

	rl, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		// Classified recoverable: a relay that is down now may answer the
		// next retry, so jobs carrying this error stay retryable.
		return nil, enginerrors.NewNetworkError("relay connect", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.relays[url]; ok {
		_ = rl.Close()
		return existing, nil
	}
	r.relays[url] = rl
	return rl, nil
}

// Query runs each filter against every configured relay and merges the
// results, deduplicated by event ID. Relay failures are logged and skipped;
// Query only errors when ctx is done before any relay answered.
func (r *RelaySource) Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		out  []*nostr.Event
		wg   sync.WaitGroup
	)
	for _, url := range r.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			rl, err := r.relay(ctx, url)
			if err != nil {
				r.log.Debug().Err(err).Str("relay", url).Msg("relay connect failed")
				return
			}
			for _, f := range filters {
				evs, err := rl.QuerySync(ctx, f)
				if err != nil {
					r.log.Debug().Err(err).Str("relay", url).Msg("relay query failed")
					continue
				}
				mu.Lock()
				for _, ev := range evs {
					if ev == nil {
						continue
					}
					if _, dup := seen[ev.ID]; dup {
						continue
					}
					seen[ev.ID] = struct{}{}
					out = append(out, ev)
				}
				mu.Unlock()
			}
		}(url)
	}
	wg.Wait()

	if len(out) == 0 && ctx.Err() != nil {
		// Classified irrecoverable: the caller's deadline is spent, so
		// retrying inside the same job cannot succeed.
		return nil, enginerrors.Classify("relay query", ctx.Err())
	}
	return out, nil
}

// Subscribe opens a live subscription on every reachable relay and fans the
// events into one channel. Duplicate delivery across relays is expected.
func (r *RelaySource) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan *nostr.Event, 256)

	var wg sync.WaitGroup
	opened := 0
	for _, url := range r.urls {
		rl, err := r.relay(subCtx, url)
		if err != nil {
			r.log.Debug().Err(err).Str("relay", url).Msg("relay connect failed")
			continue
		}
		sub, err := rl.Subscribe(subCtx, filters)
		if err != nil {
			r.log.Debug().Err(err).Str("relay", url).Msg("relay subscribe failed")
			continue
		}
		opened++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sub.Unsub()
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-subCtx.Done():
						return
					}
				case <-subCtx.Done():
					return
				}
			}
		}()
	}
	if opened == 0 {
		cancel()
		close(out)
		return nil, nil, ErrNoRelays
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, cancel, nil
}

// Close tears down every open relay connection.
func (r *RelaySource) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for url, rl := range r.relays {
		_ = rl.Close()
		delete(r.relays, url)
	}
}
