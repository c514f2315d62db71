// Package stream manages per-channel message lists: one historical query
// plus one live subscription plus any number of optimistic local messages,
// merged into a single ordered, deduplicated list.
package stream

import (
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// SendState tracks an in-flight optimistic send. Remote messages carry the
// zero value.
type SendState string

const (
	// SendPending: shown locally, authoritative echo not yet observed.
	SendPending SendState = "pending"
	// SendConfirmed: replaced in place by its authoritative event.
	SendConfirmed SendState = "confirmed"
	// SendUnconfirmed: no echo within the timeout. Left visible; dropping a
	// message the user believes they sent is worse than a "still sending"
	// state. Retry is a user action, never automatic.
	SendUnconfirmed SendState = "unconfirmed"
)

// Message is one entry in a channel's merged list.
type Message struct {
	ID          string // authoritative event ID; empty while optimistic
	LocalID     string // stable local handle, set for optimistic sends
	AuthorKey   string
	CommunityID string
	ChannelID   string
	Content     string
	CreatedAt   nostr.Timestamp

	IsOptimistic bool
	SendState    SendState

	// FirstObservedAt is the local clock when this message first became
	// visible. It survives optimistic-to-authoritative replacement so entry
	// animations stay stable. Not a correctness field.
	FirstObservedAt time.Time
}

// sortMessages keeps a list ascending by CreatedAt, ties broken by ID then
// LocalID for determinism.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		if msgs[i].ID != msgs[j].ID {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].LocalID < msgs[j].LocalID
	})
}
