// Package merge implements the deep-merge primitive shared by the merge
// queue's fold and by update's per-key op collapse, in both its
// keep-nulls (delta) and strip-nulls (materialized snapshot) modes.
package merge

import "github.com/tailored-agentic-units/storecore/store/value"

// Apply folds deltas left-to-right atop base. When base is undefined, the
// fold starts from the first delta. A delta of Null() collapses the
// accumulator to null; a later object delta still replaces it wholesale.
// Arrays and scalars always replace; objects merge key-by-key, with a
// nested null meaning "delete this field" when stripNulls is true, or
// "store an explicit null marker" when stripNulls is false.
func Apply(base *value.Value, deltas []*value.Value, stripNulls bool) *value.Value {
	acc := base
	for _, delta := range deltas {
		acc = applyOne(acc, delta, stripNulls)
	}
	return acc
}

func applyOne(acc, delta *value.Value, stripNulls bool) *value.Value {
	if value.IsUndefined(delta) {
		return acc
	}
	if value.IsUndefined(acc) {
		return materialize(delta, stripNulls)
	}
	if value.IsNull(delta) {
		return value.Null()
	}
	if value.IsObject(delta) && value.IsObject(acc) {
		return mergeObjects(acc, delta, stripNulls)
	}
	// Arrays, scalars, and object-vs-non-object mismatches all replace
	// wholesale; the compatibility checker is responsible for rejecting
	// object-vs-array mismatches before Apply ever sees them.
	return materialize(delta, stripNulls)
}

func mergeObjects(acc, delta *value.Value, stripNulls bool) *value.Value {
	out := make(map[string]*value.Value)
	for k, v := range acc.Fields() {
		out[k] = v
	}
	for k, dv := range delta.Fields() {
		if value.IsNull(dv) {
			if stripNulls {
				delete(out, k)
				continue
			}
			out[k] = value.Null()
			continue
		}
		if value.IsObject(dv) {
			if existing, ok := out[k]; ok && value.IsObject(existing) {
				out[k] = mergeObjects(existing, dv, stripNulls)
				continue
			}
		}
		out[k] = materialize(dv, stripNulls)
	}
	return value.Object(out)
}

// materialize resolves a delta value into its final stored form: when
// stripNulls is true, nested nulls inside object deltas are stripped
// recursively, while arrays are kept as-is (a freshly-populated field cannot "delete" anything, but a
// nested null inside it should still vanish from the snapshot); when false
// the delta is kept as-is so storage drivers that understand nested
// deletion markers still see them.
func materialize(delta *value.Value, stripNulls bool) *value.Value {
	if !stripNulls {
		return delta
	}
	if value.IsObject(delta) {
		out := make(map[string]*value.Value)
		for k, v := range delta.Fields() {
			if value.IsNull(v) {
				continue
			}
			out[k] = materialize(v, stripNulls)
		}
		return value.Object(out)
	}
	return delta
}
