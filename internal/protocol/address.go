package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Address identifies a replaceable event by (kind, author, identifier). Its
// string form "kind:pubkey:identifier" is what `a` tags carry and what the
// engine uses as a community ID.
type Address struct {
	Kind       int
	PubKey     string
	Identifier string
}

// ParseAddress parses a "kind:pubkey:identifier" string. The identifier may
// itself contain colons, so only the first two separators are structural.
func ParseAddress(s string) (Address, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Address{}, false
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil || parts[1] == "" {
		return Address{}, false
	}
	return Address{Kind: kind, PubKey: parts[1], Identifier: parts[2]}, true
}

// String renders the canonical tag form.
func (a Address) String() string {
	return fmt.Sprintf("%d:%s:%s", a.Kind, a.PubKey, a.Identifier)
}

// CommunityAddress builds the address for a community definition.
func CommunityAddress(pubkey, identifier string) Address {
	return Address{Kind: KindCommunityDefinition, PubKey: pubkey, Identifier: identifier}
}
