package store

import "github.com/nbd-wtf/go-nostr"

// Newest selects the replaceable-event winner from candidates: highest
// CreatedAt, ties broken by lexically smaller ID so any admission order
// converges on the same value. Returns nil for an empty slice.
func Newest(candidates []*nostr.Event) *nostr.Event {
	var best *nostr.Event
	for _, ev := range candidates {
		if ev == nil {
			continue
		}
		switch {
		case best == nil:
			best = ev
		case ev.CreatedAt > best.CreatedAt:
			best = ev
		case ev.CreatedAt == best.CreatedAt && ev.ID < best.ID:
			best = ev
		}
	}
	return best
}
