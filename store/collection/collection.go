// Package collection implements the key-classification and member-id
// bookkeeping the write pipeline needs: deciding whether a key belongs to
// a declared collection prefix, validating a batch of member keys share one
// collection, and coercing skippable member writes to deletion.
package collection

import "strings"

// Registry holds the declared collection-key prefixes: any key starting
// with one of them is a collection member. Individual (non-collection)
// keys never appear here; classification is deterministic from membership
// in this set.
type Registry struct {
	prefixes []string
}

// New creates a Registry from the declared collection-key prefixes.
func New(prefixes []string) *Registry {
	r := &Registry{prefixes: append([]string(nil), prefixes...)}
	return r
}

// PrefixFor returns the collection prefix key belongs to, or "" if key is
// not a collection member under any declared prefix.
func (r *Registry) PrefixFor(key string) string {
	for _, p := range r.prefixes {
		if strings.HasPrefix(key, p) && len(key) > len(p) {
			return p
		}
	}
	return ""
}

// IsCollectionKey reports whether key is itself a declared collection
// prefix (as opposed to a member of one).
func (r *Registry) IsCollectionKey(key string) bool {
	for _, p := range r.prefixes {
		if p == key {
			return true
		}
	}
	return false
}

// MemberID returns the suffix after the collection prefix, and whether key
// is actually a member of collectionKey.
func MemberID(collectionKey, key string) (string, bool) {
	if !strings.HasPrefix(key, collectionKey) {
		return "", false
	}
	id := key[len(collectionKey):]
	if id == "" {
		return "", false
	}
	return id, true
}

// ValidateMembers checks that every key in members shares collectionKey as
// its prefix and has a non-empty member id. It returns the offending key
// on the first violation.
func ValidateMembers(collectionKey string, members map[string]any) (badKey string, ok bool) {
	if len(members) == 0 {
		return "", false
	}
	for k := range members {
		if _, isMember := MemberID(collectionKey, k); !isMember {
			return k, false
		}
	}
	return "", true
}

// Prefixes returns the declared collection-key prefixes, in declaration
// order.
func (r *Registry) Prefixes() []string {
	return append([]string(nil), r.prefixes...)
}
