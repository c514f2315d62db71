// Package permission derives effective channel read/write access from
// permission-policy events plus membership state. Decisions fail closed:
// while any contributing data is absent the answer is deny, never a stale
// or optimistic allow.
package permission

import (
	"github.com/samthomson/universed-sub001/internal/community"
	"github.com/samthomson/universed-sub001/internal/membership"
	"github.com/samthomson/universed-sub001/internal/protocol"
	"github.com/samthomson/universed-sub001/internal/store"
)

// AccessType selects which side of a policy a check is against.
type AccessType string

const (
	AccessRead  AccessType = "read"
	AccessWrite AccessType = "write"
)

// Decision is the outcome of an access check. Reason is stable, lowercase,
// and suitable for logging; it is not localized UI copy.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }
func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }

// Policy is the effective permission policy for a channel: either the newest
// policy event, or the documented default (read: everyone, write: members).
type Policy struct {
	Read           protocol.PolicyRule
	Write          protocol.PolicyRule
	AllowedReaders map[string]struct{}
	DeniedReaders  map[string]struct{}
	AllowedWriters map[string]struct{}
	DeniedWriters  map[string]struct{}
}

// DefaultPolicy is applied when no policy event exists for a channel.
func DefaultPolicy() Policy {
	return Policy{Read: protocol.PolicyEveryone, Write: protocol.PolicyMembers}
}

func (p Policy) rule(access AccessType) protocol.PolicyRule {
	if access == AccessWrite {
		return p.Write
	}
	return p.Read
}

func (p Policy) allowlist(access AccessType) map[string]struct{} {
	if access == AccessWrite {
		return p.AllowedWriters
	}
	return p.AllowedReaders
}

func (p Policy) denylist(access AccessType) map[string]struct{} {
	if access == AccessWrite {
		return p.DeniedWriters
	}
	return p.DeniedReaders
}

// Resolver evaluates access checks against the store's current state.
type Resolver struct {
	store       *store.Store
	communities *community.Resolver
	memberships *membership.Resolver
}

// NewResolver constructs a Resolver.
func NewResolver(st *store.Store, communities *community.Resolver, memberships *membership.Resolver) *Resolver {
	return &Resolver{store: st, communities: communities, memberships: memberships}
}

// PolicyFor returns the channel's effective policy and whether an explicit
// policy event exists.
func (r *Resolver) PolicyFor(communityID, channelID string) (Policy, bool) {
	candidates := r.store.ByKindAndTag(protocol.KindChannelPermission, "d", communityID)
	var matching []*protocol.PolicyEvent
	for _, ev := range candidates {
		parsed, ok := protocol.ParsePolicy(ev)
		if ok && parsed.ChannelID == channelID {
			matching = append(matching, parsed)
		}
	}
	newest := newestPolicy(matching)
	if newest == nil {
		return DefaultPolicy(), false
	}
	return Policy{
		Read:           newest.ReadPolicy,
		Write:          newest.WritePolicy,
		AllowedReaders: newest.AllowedReaders,
		DeniedReaders:  newest.DeniedReaders,
		AllowedWriters: newest.AllowedWriters,
		DeniedWriters:  newest.DeniedWriters,
	}, true
}

func newestPolicy(policies []*protocol.PolicyEvent) *protocol.PolicyEvent {
	var best *protocol.PolicyEvent
	for _, p := range policies {
		switch {
		case best == nil:
			best = p
		case p.CreatedAt > best.CreatedAt:
			best = p
		case p.CreatedAt == best.CreatedAt && p.ID < best.ID:
			best = p
		}
	}
	return best
}

// Can evaluates whether userKey has the given access on the channel.
//
// Evaluation order: explicit deny first (deny beats everything, including
// moderator bypass), then moderator bypass, then the policy rule.
func (r *Resolver) Can(communityID, channelID, userKey string, access AccessType) Decision {
	if userKey == "" {
		return deny("no requester identity")
	}
	if _, found := r.communities.Resolve(communityID); !found {
		// Community definition not loaded yet: fail closed.
		return deny("community not loaded")
	}

	policy, _ := r.PolicyFor(communityID, channelID)

	if _, denied := policy.denylist(access)[userKey]; denied {
		return deny("explicitly denied")
	}

	status := r.memberships.Status(communityID, userKey)
	moderation := status == membership.StatusOwner || status == membership.StatusModerator

	if moderation {
		return allow("moderation capability")
	}

	switch policy.rule(access) {
	case protocol.PolicyEveryone:
		return allow("policy everyone")

	case protocol.PolicyMembers:
		if status == membership.StatusApproved {
			return allow("member")
		}
		if roster := r.memberships.Roster(communityID); roster != nil {
			if _, ok := roster[userKey]; ok {
				return allow("on member roster")
			}
		}
		return deny("not a member")

	case protocol.PolicyModerators:
		return deny("moderators only")

	case protocol.PolicySpecific:
		if _, ok := policy.allowlist(access)[userKey]; ok {
			return allow("on allowlist")
		}
		return deny("not on allowlist")

	default:
		// Validators reject unknown rules, so this only fires for a
		// hand-constructed Policy value.
		return deny("unknown policy")
	}
}
