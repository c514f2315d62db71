package protocol

import "github.com/nbd-wtf/go-nostr"

// Tag helpers. go-nostr's Tags type is a plain [][]string; these wrappers
// encode the engine's conventions (first element is the namespace key,
// second the value, third an optional role marker).

// FirstTag returns the value of the first tag named name, or "" if absent.
func FirstTag(ev *nostr.Event, name string) string {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// HasTag reports whether any tag named name is present, regardless of value.
func HasTag(ev *nostr.Event, name string) bool {
	for _, t := range ev.Tags {
		if len(t) >= 1 && t[0] == name {
			return true
		}
	}
	return false
}

// TagValues collects the values of every tag named name, in tag order.
func TagValues(ev *nostr.Event, name string) []string {
	var out []string
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// TagValuesWithMarker collects values of tags named name whose third element
// equals marker.
func TagValuesWithMarker(ev *nostr.Event, name, marker string) []string {
	var out []string
	for _, t := range ev.Tags {
		if len(t) >= 3 && t[0] == name && t[2] == marker {
			out = append(out, t[1])
		}
	}
	return out
}
