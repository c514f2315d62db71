// Package protocol defines the event kinds, tag conventions, and validated
// event variants the engine consumes. Raw relay events are parsed into a
// typed variant exactly once, after validation; downstream code never sees a
// maybe-malformed event.
package protocol

// Kind discriminants consumed by the engine. The integers are a protocol
// contract shared with relays and other clients, not a choice made here.
const (
	KindDeletion            = 5
	KindChannelMessage      = 9
	KindJoinRequest         = 4552
	KindLeaveRequest        = 4553
	KindCommunityDefinition = 34550
	KindApprovedMembers     = 34551
	KindDeclinedMembers     = 34552
	KindBannedMembers       = 34553
	KindChannelFolder       = 34554
	KindSpace               = 34555
	KindChannelPermission   = 34556
)

// DefaultChannelID is the channel that receives messages published without a
// channel tag. Every community has it implicitly.
const DefaultChannelID = "general"

// ReplaceableKinds lists the kinds with replace-on-newest semantics: only the
// newest event per (kind, author, identifier) counts as current.
var ReplaceableKinds = []int{
	KindCommunityDefinition,
	KindApprovedMembers,
	KindDeclinedMembers,
	KindBannedMembers,
	KindChannelFolder,
	KindSpace,
	KindChannelPermission,
}

// IsReplaceable reports whether kind follows replace-on-newest semantics.
func IsReplaceable(kind int) bool {
	for _, k := range ReplaceableKinds {
		if k == kind {
			return true
		}
	}
	return false
}
