// Package membership derives a per-user, per-community membership status
// from membership-list events and the user's own join/leave requests.
//
// The resolution order is the correctness contract of this package:
//
//  1. community creator            → owner
//  2. in the moderator set         → moderator
//  3. on the current banned list   → banned
//  4. leave newer than any join    → not-member (overrides stale approval)
//  5. on the current approved list → approved
//  6. on the current declined list → declined
//  7. join with no newer leave     → pending
//  8. otherwise                    → not-member
//
// Step 4 outranks step 5: membership lists are republished by
// moderators and can lag, while the user's own signed leave request is always
// fresher authority over their own status. Reordering these steps
// reintroduces ghost members.
package membership

import (
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/samthomson/universed-sub001/internal/community"
	"github.com/samthomson/universed-sub001/internal/protocol"
	"github.com/samthomson/universed-sub001/internal/store"
)

// Status is a membership state for one (community, user) pair.
type Status string

const (
	StatusOwner     Status = "owner"
	StatusModerator Status = "moderator"
	StatusApproved  Status = "approved"
	StatusPending   Status = "pending"
	StatusDeclined  Status = "declined"
	StatusBanned    Status = "banned"
	StatusNotMember Status = "not-member"
)

type cacheKey struct {
	communityID string
	userKey     string
}

// Resolver computes membership statuses. Results are cached per pair and the
// whole cache is invalidated whenever a contributing event kind is admitted,
// so a status is always a pure function of the store's current contents.
type Resolver struct {
	store       *store.Store
	communities *community.Resolver

	mu    sync.RWMutex
	cache map[cacheKey]Status
}

// contributingKinds are the kinds whose admission can change any status.
var contributingKinds = []int{
	protocol.KindCommunityDefinition,
	protocol.KindApprovedMembers,
	protocol.KindDeclinedMembers,
	protocol.KindBannedMembers,
	protocol.KindJoinRequest,
	protocol.KindLeaveRequest,
	protocol.KindDeletion,
}

// NewResolver constructs a Resolver and registers cache invalidation with
// the store.
func NewResolver(st *store.Store, communities *community.Resolver) *Resolver {
	r := &Resolver{
		store:       st,
		communities: communities,
		cache:       make(map[cacheKey]Status),
	}
	st.Notify(contributingKinds, func(*nostr.Event) {
		r.mu.Lock()
		clear(r.cache)
		r.mu.Unlock()
	})
	return r
}

// Status derives the membership status of userKey in communityID. When the
// community definition is not yet cached the result is not-member; absence
// of data never raises an error.
func (r *Resolver) Status(communityID, userKey string) Status {
	if userKey == "" {
		return StatusNotMember
	}
	key := cacheKey{communityID: communityID, userKey: userKey}
	r.mu.RLock()
	if s, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return s
	}
	r.mu.RUnlock()

	s := r.derive(communityID, userKey)
	r.mu.Lock()
	r.cache[key] = s
	r.mu.Unlock()
	return s
}

func (r *Resolver) derive(communityID, userKey string) Status {
	c, found := r.communities.Resolve(communityID)
	if found {
		if c.CreatorKey == userKey {
			return StatusOwner
		}
		if c.IsModerator(userKey) {
			return StatusModerator
		}
	}

	if l := r.currentList(protocol.KindBannedMembers, communityID); l != nil && l.Contains(userKey) {
		return StatusBanned
	}

	join := r.latestRequest(protocol.KindJoinRequest, communityID, userKey)
	leave := r.latestRequest(protocol.KindLeaveRequest, communityID, userKey)
	if leave != nil && (join == nil || leave.CreatedAt > join.CreatedAt) {
		return StatusNotMember
	}

	if l := r.currentList(protocol.KindApprovedMembers, communityID); l != nil && l.Contains(userKey) {
		return StatusApproved
	}
	if l := r.currentList(protocol.KindDeclinedMembers, communityID); l != nil && l.Contains(userKey) {
		return StatusDeclined
	}
	if join != nil {
		return StatusPending
	}
	return StatusNotMember
}

// Roster returns the community's current approved member set, for callers
// (like the permission resolver) that need the live membership roster.
func (r *Resolver) Roster(communityID string) map[string]struct{} {
	if l := r.currentList(protocol.KindApprovedMembers, communityID); l != nil {
		return l.Members
	}
	return nil
}

// HasModerationCapability reports whether userKey is the owner or a
// moderator of the community.
func (r *Resolver) HasModerationCapability(communityID, userKey string) bool {
	switch r.Status(communityID, userKey) {
	case StatusOwner, StatusModerator:
		return true
	}
	return false
}

// currentList returns the validated newest membership list of the given kind
// for the community, or nil when none has been admitted.
func (r *Resolver) currentList(kind int, communityID string) *protocol.MemberListEvent {
	candidates := r.liveEvents(r.store.ByKindAndTag(kind, "d", communityID))
	parsed, ok := protocol.ParseMemberList(store.Newest(candidates))
	if !ok {
		return nil
	}
	return parsed
}

// latestRequest returns the user's newest join or leave request for the
// community, skipping requests the user has since deleted.
func (r *Resolver) latestRequest(kind int, communityID, userKey string) *protocol.JoinLeaveEvent {
	var candidates []*nostr.Event
	for _, ev := range r.liveEvents(r.store.ByKindAndTag(kind, "a", communityID)) {
		if ev.PubKey == userKey {
			candidates = append(candidates, ev)
		}
	}
	parsed, ok := protocol.ParseJoinLeave(store.Newest(candidates))
	if !ok {
		return nil
	}
	return parsed
}

// liveEvents filters out events retracted by their own author.
func (r *Resolver) liveEvents(evs []*nostr.Event) []*nostr.Event {
	out := evs[:0:0]
	for _, ev := range evs {
		retracted := false
		for _, del := range r.store.ByKindAndTag(protocol.KindDeletion, "e", ev.ID) {
			if del.PubKey == ev.PubKey {
				retracted = true
				break
			}
		}
		if !retracted {
			out = append(out, ev)
		}
	}
	return out
}
