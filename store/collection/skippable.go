package collection

import "github.com/tailored-agentic-units/storecore/store/value"

// SkipSet is the set of collection member ids whose writes are coerced to
// deletion regardless of input.
type SkipSet struct {
	registry *Registry
	ids      map[string]struct{}
}

// NewSkipSet builds a SkipSet from the declared skippable member ids.
func NewSkipSet(registry *Registry, ids []string) *SkipSet {
	s := &SkipSet{registry: registry, ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Filter returns Null() in place of v when key is a collection member whose
// member id is skippable; otherwise it returns v unchanged.
func (s *SkipSet) Filter(key string, v *value.Value) *value.Value {
	if s == nil || len(s.ids) == 0 {
		return v
	}
	prefix := s.registry.PrefixFor(key)
	if prefix == "" {
		return v
	}
	memberID, _ := MemberID(prefix, key)
	if _, skip := s.ids[memberID]; skip {
		return value.Null()
	}
	return v
}
