package value

import "google.golang.org/protobuf/types/known/structpb"

// Kind classifies a Value the way the compatibility checker needs to:
// undefined, null, array, object or scalar. Booleans, numbers and strings
// are all "scalar" for compatibility purposes.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindArray
	KindObject
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// KindOf classifies val. A nil *Value is KindUndefined.
func KindOf(val *Value) Kind {
	if val == nil || val.v == nil {
		return KindUndefined
	}
	switch val.v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return KindNull
	case *structpb.Value_ListValue:
		return KindArray
	case *structpb.Value_StructValue:
		return KindObject
	default:
		return KindScalar
	}
}

// IsUndefined reports whether val is the Go-nil "undefined" sentinel.
func IsUndefined(val *Value) bool { return KindOf(val) == KindUndefined }

// IsNull reports whether val is JSON null.
func IsNull(val *Value) bool { return KindOf(val) == KindNull }

// IsObject reports whether val is a JSON object.
func IsObject(val *Value) bool { return KindOf(val) == KindObject }

// IsArray reports whether val is a JSON array.
func IsArray(val *Value) bool { return KindOf(val) == KindArray }

// Fields returns the object's fields, or nil if val is not an object.
func (val *Value) Fields() map[string]*Value {
	if val == nil || val.v == nil {
		return nil
	}
	s, ok := val.v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil
	}
	out := make(map[string]*Value, len(s.StructValue.Fields))
	for k, f := range s.StructValue.Fields {
		out[k] = &Value{v: f}
	}
	return out
}

// Equal reports whether two values are structurally identical. Two
// undefined values and two nil-wrapped values are both equal; undefined is
// never equal to null.
func Equal(a, b *Value) bool {
	ak, bk := KindOf(a), KindOf(b)
	if ak != bk {
		return false
	}
	if ak == KindUndefined {
		return true
	}
	return equalInterface(a.v.AsInterface(), b.v.AsInterface())
}

func equalInterface(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !equalInterface(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalInterface(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
