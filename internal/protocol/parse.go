package protocol

import (
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"
)

// PolicyRule is a channel access policy value. Anything outside the four
// known values fails validation.
type PolicyRule string

const (
	PolicyEveryone   PolicyRule = "everyone"
	PolicyMembers    PolicyRule = "members"
	PolicyModerators PolicyRule = "moderators"
	PolicySpecific   PolicyRule = "specific"
)

func validPolicyRule(r PolicyRule) bool {
	switch r {
	case PolicyEveryone, PolicyMembers, PolicyModerators, PolicySpecific:
		return true
	}
	return false
}

// CommunityEvent is a validated community definition.
type CommunityEvent struct {
	ID          string
	Address     Address
	CreatorKey  string
	Name        string
	Description string
	ImageURL    string
	Moderators  []string
	RelayHints  []string
	CreatedAt   nostr.Timestamp
}

// ParseCommunity validates ev as a community definition. The `d` tag is the
// only hard requirement; name falls back to the identifier.
func ParseCommunity(ev *nostr.Event) (*CommunityEvent, bool) {
	if ev == nil || ev.Kind != KindCommunityDefinition {
		return nil, false
	}
	identifier := FirstTag(ev, "d")
	if identifier == "" {
		return nil, false
	}
	c := &CommunityEvent{
		ID:          ev.ID,
		Address:     CommunityAddress(ev.PubKey, identifier),
		CreatorKey:  ev.PubKey,
		Name:        FirstTag(ev, "name"),
		Description: FirstTag(ev, "description"),
		ImageURL:    FirstTag(ev, "image"),
		Moderators:  TagValuesWithMarker(ev, "p", "moderator"),
		RelayHints:  TagValues(ev, "relay"),
		CreatedAt:   ev.CreatedAt,
	}
	if c.Name == "" {
		c.Name = identifier
	}
	return c, true
}

// MemberListEvent is a validated approved/declined/banned member list. Which
// list it is follows from Kind.
type MemberListEvent struct {
	ID          string
	Kind        int
	CommunityID string
	Members     map[string]struct{}
	CreatedAt   nostr.Timestamp
}

// ParseMemberList validates ev as one of the three membership lists. An empty
// list is valid; the `d` tag naming the community is not optional.
func ParseMemberList(ev *nostr.Event) (*MemberListEvent, bool) {
	if ev == nil {
		return nil, false
	}
	switch ev.Kind {
	case KindApprovedMembers, KindDeclinedMembers, KindBannedMembers:
	default:
		return nil, false
	}
	communityID := FirstTag(ev, "d")
	if _, ok := ParseAddress(communityID); !ok {
		return nil, false
	}
	members := make(map[string]struct{})
	for _, k := range TagValues(ev, "p") {
		members[k] = struct{}{}
	}
	return &MemberListEvent{
		ID:          ev.ID,
		Kind:        ev.Kind,
		CommunityID: communityID,
		Members:     members,
		CreatedAt:   ev.CreatedAt,
	}, true
}

// Contains reports membership of key in the list.
func (l *MemberListEvent) Contains(key string) bool {
	_, ok := l.Members[key]
	return ok
}

// JoinLeaveEvent is a validated join or leave request.
type JoinLeaveEvent struct {
	ID          string
	Kind        int
	AuthorKey   string
	CommunityID string
	CreatedAt   nostr.Timestamp
}

// ParseJoinLeave validates ev as a join or leave request addressed to a
// community via its `a` tag.
func ParseJoinLeave(ev *nostr.Event) (*JoinLeaveEvent, bool) {
	if ev == nil || (ev.Kind != KindJoinRequest && ev.Kind != KindLeaveRequest) {
		return nil, false
	}
	addr := FirstTag(ev, "a")
	if _, ok := ParseAddress(addr); !ok {
		return nil, false
	}
	return &JoinLeaveEvent{
		ID:          ev.ID,
		Kind:        ev.Kind,
		AuthorKey:   ev.PubKey,
		CommunityID: addr,
		CreatedAt:   ev.CreatedAt,
	}, true
}

// MessageEvent is a validated channel chat message.
type MessageEvent struct {
	ID          string
	AuthorKey   string
	CommunityID string
	ChannelID   string // "" means the community's default channel
	Content     string
	IsReply     bool
	CreatedAt   nostr.Timestamp
}

// ParseMessage validates ev as a channel message. Replies (any `e` reference
// to another event) are still valid events; callers filter them out of main
// feeds via IsReply.
func ParseMessage(ev *nostr.Event) (*MessageEvent, bool) {
	if ev == nil || ev.Kind != KindChannelMessage || ev.Content == "" {
		return nil, false
	}
	addr := FirstTag(ev, "a")
	if _, ok := ParseAddress(addr); !ok {
		return nil, false
	}
	return &MessageEvent{
		ID:          ev.ID,
		AuthorKey:   ev.PubKey,
		CommunityID: addr,
		ChannelID:   FirstTag(ev, "t"),
		Content:     ev.Content,
		IsReply:     HasTag(ev, "e"),
		CreatedAt:   ev.CreatedAt,
	}, true
}

// layoutContent is the JSON payload shared by folders and spaces.
type layoutContent struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// LayoutEvent is a validated channel folder or space grouping, depending on
// Kind.
type LayoutEvent struct {
	ID          string
	Kind        int
	Slug        string
	CommunityID string
	Name        string
	Position    int
	Channels    []string
	CreatedAt   nostr.Timestamp
}

// ParseLayout validates ev as a channel folder or space. Content must be JSON
// carrying at least a name.
func ParseLayout(ev *nostr.Event) (*LayoutEvent, bool) {
	if ev == nil || (ev.Kind != KindChannelFolder && ev.Kind != KindSpace) {
		return nil, false
	}
	slug := FirstTag(ev, "d")
	addr := FirstTag(ev, "a")
	if slug == "" {
		return nil, false
	}
	if _, ok := ParseAddress(addr); !ok {
		return nil, false
	}
	var content layoutContent
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil || content.Name == "" {
		return nil, false
	}
	return &LayoutEvent{
		ID:          ev.ID,
		Kind:        ev.Kind,
		Slug:        slug,
		CommunityID: addr,
		Name:        content.Name,
		Position:    content.Position,
		Channels:    TagValues(ev, "t"),
		CreatedAt:   ev.CreatedAt,
	}, true
}

// policyContent is the JSON payload of a permission policy event.
type policyContent struct {
	ReadPolicy  PolicyRule `json:"readPolicy"`
	WritePolicy PolicyRule `json:"writePolicy"`
}

// PolicyEvent is a validated channel permission policy.
type PolicyEvent struct {
	ID             string
	CommunityID    string
	ChannelID      string
	ReadPolicy     PolicyRule
	WritePolicy    PolicyRule
	AllowedReaders map[string]struct{}
	DeniedReaders  map[string]struct{}
	AllowedWriters map[string]struct{}
	DeniedWriters  map[string]struct{}
	CreatedAt      nostr.Timestamp
}

// ParsePolicy validates ev as a channel permission policy. Both policy fields
// must be present and within the enum; unknown values are rejected here so
// the permission resolver never evaluates a malformed rule.
func ParsePolicy(ev *nostr.Event) (*PolicyEvent, bool) {
	if ev == nil || ev.Kind != KindChannelPermission {
		return nil, false
	}
	communityID := FirstTag(ev, "d")
	channel := FirstTag(ev, "channel")
	if _, ok := ParseAddress(communityID); !ok {
		return nil, false
	}
	if channel == "" {
		return nil, false
	}
	var content policyContent
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil {
		return nil, false
	}
	if !validPolicyRule(content.ReadPolicy) || !validPolicyRule(content.WritePolicy) {
		return nil, false
	}
	p := &PolicyEvent{
		ID:             ev.ID,
		CommunityID:    communityID,
		ChannelID:      channel,
		ReadPolicy:     content.ReadPolicy,
		WritePolicy:    content.WritePolicy,
		AllowedReaders: markerSet(ev, "read-allow"),
		DeniedReaders:  markerSet(ev, "read-deny"),
		AllowedWriters: markerSet(ev, "write-allow"),
		DeniedWriters:  markerSet(ev, "write-deny"),
		CreatedAt:      ev.CreatedAt,
	}
	return p, true
}

func markerSet(ev *nostr.Event, marker string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, k := range TagValuesWithMarker(ev, "p", marker) {
		out[k] = struct{}{}
	}
	return out
}

// DeletionEvent is a validated deletion request naming target event IDs.
type DeletionEvent struct {
	ID        string
	AuthorKey string
	TargetIDs []string
	Kinds     []string
	CreatedAt nostr.Timestamp
}

// ParseDeletion validates ev as a deletion request. At least one `e` target
// is required.
func ParseDeletion(ev *nostr.Event) (*DeletionEvent, bool) {
	if ev == nil || ev.Kind != KindDeletion {
		return nil, false
	}
	targets := TagValues(ev, "e")
	if len(targets) == 0 {
		return nil, false
	}
	return &DeletionEvent{
		ID:        ev.ID,
		AuthorKey: ev.PubKey,
		TargetIDs: targets,
		Kinds:     TagValues(ev, "k"),
		CreatedAt: ev.CreatedAt,
	}, true
}

// Valid reports whether ev passes the validator for its kind. Unknown kinds
// are invalid: the engine only admits events it has a semantic role for.
func Valid(ev *nostr.Event) bool {
	if ev == nil {
		return false
	}
	switch ev.Kind {
	case KindCommunityDefinition:
		_, ok := ParseCommunity(ev)
		return ok
	case KindApprovedMembers, KindDeclinedMembers, KindBannedMembers:
		_, ok := ParseMemberList(ev)
		return ok
	case KindJoinRequest, KindLeaveRequest:
		_, ok := ParseJoinLeave(ev)
		return ok
	case KindChannelMessage:
		_, ok := ParseMessage(ev)
		return ok
	case KindChannelFolder, KindSpace:
		_, ok := ParseLayout(ev)
		return ok
	case KindChannelPermission:
		_, ok := ParsePolicy(ev)
		return ok
	case KindDeletion:
		_, ok := ParseDeletion(ev)
		return ok
	}
	return false
}
