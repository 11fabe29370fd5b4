// Package party defines participant identifiers for the coordination server.
//
// A participant is identified by its long-term extended public key (xpub).
// Per-transaction addresses are derived from it; the raw string is used as
// the identifier everywhere.
package party

import "sort"

// ID is a participant's extended public key in its Base58 form.
type ID string

func (id ID) String() string { return string(id) }

// IDSlice is an ordered set of party IDs.
type IDSlice []ID

// NewIDSlice returns a sorted copy of ids with duplicates removed.
func NewIDSlice(ids []ID) IDSlice {
	out := make(IDSlice, 0, len(ids))
	seen := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether id is a member of the slice.
func (ids IDSlice) Contains(id ID) bool {
	for _, other := range ids {
		if other == id {
			return true
		}
	}
	return false
}

// Equal reports whether both slices hold the same IDs in the same order.
func (ids IDSlice) Equal(other IDSlice) bool {
	if len(ids) != len(other) {
		return false
	}
	for i := range ids {
		if ids[i] != other[i] {
			return false
		}
	}
	return true
}

// Strings returns the IDs as plain strings.
func (ids IDSlice) Strings() []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
