// Package source abstracts where events come from: historical queries plus
// live subscriptions against one or more relays. Signatures are assumed
// verified by the transport library; nothing here re-checks them.
package source

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Source is the engine's view of the relay layer.
//
// Query returns historical events matching filters, bounded by ctx. Subscribe
// streams events as they arrive; the returned cancel func tears the
// subscription down and closes the channel. Both may deliver duplicates
// across relays; deduplication is the caller's job (the event store is
// idempotent by ID).
type Source interface {
	Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error)
	Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, func(), error)
}
