package community

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/samthomson/universed-sub001/internal/protocol"
	"github.com/samthomson/universed-sub001/internal/store"
)

// Grouping is an ordered, named grouping of channels: a channel folder or a
// space, depending on which kind it was derived from.
type Grouping struct {
	Slug        string
	CommunityID string
	Name        string
	Position    int
	Channels    []string
}

// Folders returns the community's channel folders ordered by position, ties
// broken alphabetically by name.
func (r *Resolver) Folders(communityID string) []Grouping {
	return r.groupings(protocol.KindChannelFolder, communityID)
}

// Spaces returns the community's spaces with the same ordering rules.
func (r *Resolver) Spaces(communityID string) []Grouping {
	return r.groupings(protocol.KindSpace, communityID)
}

func (r *Resolver) groupings(kind int, communityID string) []Grouping {
	bySlug := make(map[string][]*nostr.Event)
	for _, ev := range r.store.ByKindAndTag(kind, "a", communityID) {
		slug := protocol.FirstTag(ev, "d")
		if slug == "" || r.retracted(ev) {
			continue
		}
		bySlug[slug] = append(bySlug[slug], ev)
	}
	out := make([]Grouping, 0, len(bySlug))
	for _, evs := range bySlug {
		parsed, ok := protocol.ParseLayout(store.Newest(evs))
		if !ok {
			continue
		}
		out = append(out, Grouping{
			Slug:        parsed.Slug,
			CommunityID: parsed.CommunityID,
			Name:        parsed.Name,
			Position:    parsed.Position,
			Channels:    parsed.Channels,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out
}
