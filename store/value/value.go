// Package value defines the JSON-shaped value type shared by every layer of
// the store: the cache, the merge primitive, the storage drivers and the
// subscriber registry all exchange *Value rather than any(), so that
// "undefined" (a Go nil pointer) and JSON null (Null()) stay distinguishable
// all the way through the pipeline.
package value

import (
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Value wraps a structpb.Value, giving the store a tagged union over
// {null, bool, number, string, array, object} without inventing one by hand.
// A nil *Value means "undefined": never stored, never propagated.
type Value struct {
	v *structpb.Value
}

// Null returns the Value representing JSON null.
func Null() *Value {
	return &Value{v: structpb.NewNullValue()}
}

// Bool wraps a boolean scalar.
func Bool(b bool) *Value { return &Value{v: structpb.NewBoolValue(b)} }

// Number wraps a numeric scalar.
func Number(n float64) *Value { return &Value{v: structpb.NewNumberValue(n)} }

// String wraps a string scalar.
func String(s string) *Value { return &Value{v: structpb.NewStringValue(s)} }

// Object wraps a string-keyed map as a JSON object.
func Object(fields map[string]*Value) *Value {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for k, f := range fields {
		if f == nil {
			continue
		}
		s.Fields[k] = f.v
	}
	return &Value{v: structpb.NewStructValue(s)}
}

// Array wraps a slice as a JSON array.
func Array(items []*Value) *Value {
	l := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(items))}
	for _, it := range items {
		if it == nil {
			l.Values = append(l.Values, structpb.NewNullValue())
			continue
		}
		l.Values = append(l.Values, it.v)
	}
	return &Value{v: structpb.NewListValue(l)}
}

// FromAny converts a decoded-JSON any() (as produced by encoding/json into
// map[string]any/[]any/float64/string/bool/nil) into a Value. A Go nil input
// returns a nil *Value (undefined), matching the "top-level undefined is a
// no-op" rule; use Null() explicitly to construct JSON null.
func FromAny(a any) (*Value, error) {
	if a == nil {
		return nil, nil
	}
	sv, err := structpb.NewValue(a)
	if err != nil {
		return nil, err
	}
	return &Value{v: sv}, nil
}

// FromJSON decodes a JSON document into a Value. The literal "null" yields
// Null(), not undefined; an empty input is a decode error.
func FromJSON(data []byte) (*Value, error) {
	var a any
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	sv, err := structpb.NewValue(a)
	if err != nil {
		return nil, err
	}
	return &Value{v: sv}, nil
}

// ToAny unwraps a Value back into plain Go data (map[string]any, []any,
// float64, string, bool, nil). Calling it on a nil *Value returns nil.
func (val *Value) ToAny() any {
	if val == nil || val.v == nil {
		return nil
	}
	return val.v.AsInterface()
}

// MarshalJSON lets Value participate directly in encoding/json, which the
// file-backed storage driver and the CLI rely on.
func (val *Value) MarshalJSON() ([]byte, error) {
	if val == nil || val.v == nil {
		return []byte("null"), nil
	}
	// structpb's own protojson encoding follows the canonical JSON mapping
	// (numbers, strings, nested structs/lists); encoding/json round-trips it
	// as opaque bytes.
	return protojson.Marshal(val.v)
}

// UnmarshalJSON restores a Value from JSON, mapping the literal null to
// Null() rather than leaving the receiver nil (json.Unmarshal never calls
// UnmarshalJSON on a nil destination for top-level absence).
func (val *Value) UnmarshalJSON(data []byte) error {
	var a any
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	sv, err := structpb.NewValue(a)
	if err != nil {
		return err
	}
	val.v = sv
	return nil
}

// Clone returns a deep copy so callers may mutate the cache's stored value
// independently from whatever they originally passed in.
func (val *Value) Clone() *Value {
	if val == nil || val.v == nil {
		return nil
	}
	clone, err := structpb.NewValue(val.v.AsInterface())
	if err != nil {
		// val.v was itself constructed by this package, so AsInterface
		// always round-trips through NewValue.
		return &Value{v: val.v}
	}
	return &Value{v: clone}
}
