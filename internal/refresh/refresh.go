// Package refresh schedules background re-fetches of slow-changing derived
// state (communities, spaces, folders) with a stale-while-revalidate policy:
// the cache-hit fast path returns immediately and a background task brings
// the data up to date on its own timeout.
package refresh

import (
	"context"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Func fetches one named piece of derived state. It must respect ctx.
type Func func(ctx context.Context) error

type entry struct {
	name        string
	fn          Func
	lastSuccess time.Time
	inFlight    bool
}

// Orchestrator tracks per-name freshness and runs refreshes in the
// background. Triggers are fire-and-forget: they never block the caller.
type Orchestrator struct {
	interval time.Duration // staleness threshold
	timeout  time.Duration // per-refresh deadline
	log      zerolog.Logger
	clock    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// New constructs an Orchestrator. interval is how old a successful refresh
// may be before the data counts as stale; timeout bounds each refresh run.
func New(interval, timeout time.Duration, log zerolog.Logger, clock func() time.Time) *Orchestrator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		interval: interval,
		timeout:  timeout,
		log:      log,
		clock:    clock,
		entries:  make(map[string]*entry),
		stop:     make(chan struct{}),
	}
}

// Register adds a named refresh function. Registering an existing name
// replaces its function but keeps its freshness.
func (o *Orchestrator) Register(name string, fn Func) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[name]; ok {
		e.fn = fn
		return
	}
	o.entries[name] = &entry{name: name, fn: fn}
}

// Stale reports whether name has never refreshed or refreshed too long ago.
// Unknown names are stale.
func (o *Orchestrator) Stale(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[name]
	if !ok {
		return true
	}
	return e.lastSuccess.IsZero() || o.clock().Sub(e.lastSuccess) > o.interval
}

// Trigger starts a background refresh of name if it is stale and not already
// running. It returns immediately in all cases.
func (o *Orchestrator) Trigger(name string) {
	o.mu.Lock()
	e, ok := o.entries[name]
	if !ok || e.inFlight {
		o.mu.Unlock()
		return
	}
	if !e.lastSuccess.IsZero() && o.clock().Sub(e.lastSuccess) <= o.interval {
		o.mu.Unlock()
		return
	}
	e.inFlight = true
	fn := e.fn
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(name, fn)
	}()
}

func (o *Orchestrator) run(name string, fn Func) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	// A couple of quick retries inside the deadline; failures beyond that
	// wait for the next trigger rather than looping forever.
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 250 * time.Millisecond
	exp.MaxElapsedTime = o.timeout
	err := backoff.Retry(func() error {
		select {
		case <-o.stop:
			return backoff.Permanent(context.Canceled)
		default:
		}
		return fn(ctx)
	}, backoff.WithContext(exp, ctx))

	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[name]
	if !ok {
		return
	}
	e.inFlight = false
	if err != nil {
		o.log.Debug().Err(err).Str("refresh", name).Msg("background refresh failed")
		return
	}
	e.lastSuccess = o.clock()
}

// Run triggers every stale entry on a ticker until Stop. Most callers rely
// on Trigger from read paths instead; Run covers long-idle processes.
func (o *Orchestrator) Run(interval time.Duration) {
	if interval <= 0 {
		interval = o.interval
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.mu.Lock()
				names := make([]string, 0, len(o.entries))
				for name := range o.entries {
					names = append(names, name)
				}
				o.mu.Unlock()
				for _, name := range names {
					o.Trigger(name)
				}
			case <-o.stop:
				return
			}
		}
	}()
}

// Stop halts the ticker and waits for in-flight refreshes to finish.
func (o *Orchestrator) Stop() {
	o.once.Do(func() { close(o.stop) })
	o.wg.Wait()
}
