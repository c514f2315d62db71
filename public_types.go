package engine

import (
	"github.com/samthomson/universed-sub001/internal/community"
	"github.com/samthomson/universed-sub001/internal/membership"
	"github.com/samthomson/universed-sub001/internal/permission"
	"github.com/samthomson/universed-sub001/internal/stream"
)

// Public type aliases so consumers can import only the engine package.
type (
	// Domain entities
	Community = community.Community
	Grouping  = community.Grouping
	Message   = stream.Message

	// Derived state
	MembershipStatus = membership.Status
	Decision         = permission.Decision
	AccessType       = permission.AccessType
	SendState        = stream.SendState
	ChannelState     = stream.State
)

// Membership statuses.
const (
	StatusOwner     = membership.StatusOwner
	StatusModerator = membership.StatusModerator
	StatusApproved  = membership.StatusApproved
	StatusPending   = membership.StatusPending
	StatusDeclined  = membership.StatusDeclined
	StatusBanned    = membership.StatusBanned
	StatusNotMember = membership.StatusNotMember
)

// Access types for channel permission checks.
const (
	AccessRead  = permission.AccessRead
	AccessWrite = permission.AccessWrite
)

// Optimistic send states.
const (
	SendPending     = stream.SendPending
	SendConfirmed   = stream.SendConfirmed
	SendUnconfirmed = stream.SendUnconfirmed
)

// Channel stream lifecycle states.
const (
	ChannelIdle      = stream.StateIdle
	ChannelLoading   = stream.StateLoading
	ChannelLive      = stream.StateLive
	ChannelSuspended = stream.StateSuspended
)
