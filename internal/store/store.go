// Package store holds the shared, deduplicated, kind-indexed cache of
// admitted events. It performs no validation and no I/O; callers validate
// before admission so the store can cache any event kind.
package store

import (
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Observer is invoked after an event of a registered kind is admitted. The
// callback runs on the admitting goroutine and must not block.
type Observer func(ev *nostr.Event)

type observerEntry struct {
	kinds map[int]struct{}
	fn    Observer
}

// Store is safe for concurrent use: many readers, any number of concurrent
// admitters. Admission is idempotent by event ID, so at-least-once delivery
// from multiple sources is safe by construction.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*nostr.Event
	byKind    map[int][]*nostr.Event
	observers []observerEntry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byID:   make(map[string]*nostr.Event),
		byKind: make(map[int][]*nostr.Event),
	}
}

// Admit inserts ev and reports whether it was new. Re-admitting a known ID is
// a no-op. Events are never mutated after insertion.
func (s *Store) Admit(ev *nostr.Event) bool {
	if ev == nil || ev.ID == "" {
		return false
	}
	s.mu.Lock()
	if _, exists := s.byID[ev.ID]; exists {
		s.mu.Unlock()
		return false
	}
	s.byID[ev.ID] = ev
	s.byKind[ev.Kind] = append(s.byKind[ev.Kind], ev)
	notify := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		if _, ok := o.kinds[ev.Kind]; ok {
			notify = append(notify, o.fn)
		}
	}
	s.mu.Unlock()

	// Observers run outside the lock so they may read the store.
	for _, fn := range notify {
		fn(ev)
	}
	return true
}

// Get returns the event with the given ID, if admitted.
func (s *Store) Get(id string) (*nostr.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[id]
	return ev, ok
}

// ByKind returns all admitted events of kind, in admission order. The slice
// is a copy; the events themselves are shared and immutable.
func (s *Store) ByKind(kind int) []*nostr.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.byKind[kind]
	out := make([]*nostr.Event, len(evs))
	copy(out, evs)
	return out
}

// ByKindAndTag returns admitted events of kind carrying a tag
// [name, value, ...].
func (s *Store) ByKindAndTag(kind int, name, value string) []*nostr.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*nostr.Event
	for _, ev := range s.byKind[kind] {
		if hasTagValue(ev, name, value) {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of admitted events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Notify registers fn to run after every admission of one of the given
// kinds. Registration is permanent for the store's lifetime.
func (s *Store) Notify(kinds []int, fn Observer) {
	set := make(map[int]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	s.mu.Lock()
	s.observers = append(s.observers, observerEntry{kinds: set, fn: fn})
	s.mu.Unlock()
}

func hasTagValue(ev *nostr.Event, name, value string) bool {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == name && t[1] == value {
			return true
		}
	}
	return false
}
