// Package community derives Community entities and their channel groupings
// from community-definition events in the event store.
package community

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/samthomson/universed-sub001/internal/protocol"
	"github.com/samthomson/universed-sub001/internal/store"
)

// Community is the current value of a community definition: the newest
// definition event for its compound key wins.
type Community struct {
	ID          string // "kind:creator:identifier" address form
	CreatorKey  string
	Moderators  map[string]struct{}
	Name        string
	Description string
	ImageURL    string
	RelayHints  []string
	UpdatedAt   nostr.Timestamp
}

// IsModerator reports whether key is in the moderator set. The creator is
// not implicitly a moderator here; callers treat owner separately.
func (c *Community) IsModerator(key string) bool {
	_, ok := c.Moderators[key]
	return ok
}

// Resolver reads community definitions, folders, and spaces out of the store.
// It holds no state of its own: every call is a fresh derivation, so results
// never depend on admission order.
type Resolver struct {
	store *store.Store
}

// NewResolver constructs a Resolver over st.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve returns the community for the given address-form ID, or (nil,
// false) when no definition has been admitted. Absence is a normal result,
// not an error: callers render loading/not-found states.
func (r *Resolver) Resolve(communityID string) (*Community, bool) {
	addr, ok := protocol.ParseAddress(communityID)
	if !ok || addr.Kind != protocol.KindCommunityDefinition {
		return nil, false
	}
	var candidates []*nostr.Event
	for _, ev := range r.store.ByKindAndTag(protocol.KindCommunityDefinition, "d", addr.Identifier) {
		if ev.PubKey == addr.PubKey && !r.retracted(ev) {
			candidates = append(candidates, ev)
		}
	}
	return r.build(store.Newest(candidates))
}

// List returns every known community, newest definition per compound key,
// sorted by name for stable presentation.
func (r *Resolver) List() []*Community {
	byKey := make(map[string][]*nostr.Event)
	for _, ev := range r.store.ByKind(protocol.KindCommunityDefinition) {
		identifier := protocol.FirstTag(ev, "d")
		if identifier == "" || r.retracted(ev) {
			continue
		}
		key := protocol.CommunityAddress(ev.PubKey, identifier).String()
		byKey[key] = append(byKey[key], ev)
	}
	out := make([]*Community, 0, len(byKey))
	for _, evs := range byKey {
		if c, ok := r.build(store.Newest(evs)); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Resolver) build(ev *nostr.Event) (*Community, bool) {
	if ev == nil {
		return nil, false
	}
	parsed, ok := protocol.ParseCommunity(ev)
	if !ok {
		return nil, false
	}
	mods := make(map[string]struct{}, len(parsed.Moderators))
	for _, m := range parsed.Moderators {
		mods[m] = struct{}{}
	}
	return &Community{
		ID:          parsed.Address.String(),
		CreatorKey:  parsed.CreatorKey,
		Moderators:  mods,
		Name:        parsed.Name,
		Description: parsed.Description,
		ImageURL:    parsed.ImageURL,
		RelayHints:  parsed.RelayHints,
		UpdatedAt:   parsed.CreatedAt,
	}, true
}

// retracted reports whether the event's author has published a deletion for
// it. Only self-deletion counts for definitions; moderator takedowns apply
// to messages, not to another author's community.
func (r *Resolver) retracted(ev *nostr.Event) bool {
	for _, del := range r.store.ByKindAndTag(protocol.KindDeletion, "e", ev.ID) {
		if del.PubKey == ev.PubKey {
			return true
		}
	}
	return false
}
