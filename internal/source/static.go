package source

import (
	"context"
	"errors"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// ErrNoRelays is returned when a subscription could not be opened on any
// configured relay.
var ErrNoRelays = errors.New("no reachable relays")

// StaticSource is an in-memory Source. Query serves from the seeded events;
// Publish feeds live subscribers. It backs tests and offline operation.
type StaticSource struct {
	mu     sync.Mutex
	events []*nostr.Event
	subs   map[int]*staticSub
	nextID int
}

type staticSub struct {
	filters nostr.Filters
	ch      chan *nostr.Event
	done    chan struct{}
}

// NewStaticSource seeds the source with the given events.
func NewStaticSource(events ...*nostr.Event) *StaticSource {
	return &StaticSource{
		events: append([]*nostr.Event(nil), events...),
		subs:   make(map[int]*staticSub),
	}
}

// Query returns seeded events matching any of the filters.
func (s *StaticSource) Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*nostr.Event
	for _, ev := range s.events {
		if filters.Match(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Subscribe registers a live subscriber. Only events Published after the call
// are delivered, subject to the filters.
func (s *StaticSource) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sub := &staticSub{
		filters: filters,
		ch:      make(chan *nostr.Event, 64),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.done)
			close(sub.ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub.ch, cancel, nil
}

// Publish appends ev to the seeded history and delivers it to matching live
// subscribers. Slow subscribers drop rather than block.
func (s *StaticSource) Publish(ev *nostr.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	subs := make([]*staticSub, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if !sub.filters.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-sub.done:
		default:
		}
	}
}
