package docval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the document value types. Only Null,
// Bool, Int, Float, String, Array, and Object implement it.
type Value interface {
	docValue() // sealed
}

// Null represents a JSON null. An explicit type (rather than a nil
// interface) keeps every stored value a valid member of the union.
type Null struct{}

func (Null) docValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string value.
type String string

func (String) docValue() {}

// Int is an integer value. Always int64; integral JSON numbers decode
// here rather than to Float so that values above 2^53 survive a
// round trip.
type Int int64

func (Int) docValue() {}

// Float is a floating-point value.
type Float float64

func (Float) docValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) docValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) docValue() {}

// Object is a map of string keys to values. Use SortedKeys for
// deterministic iteration.
type Object map[string]Value

func (Object) docValue() {}

// Pair is a key-value pair for typed Object construction.
type Pair struct {
	Key   string
	Value Value
}

// Obj builds an Object from pairs. Convenience for tests and callers
// assembling payloads inline.
//
//	docval.Obj(docval.P("smiles", docval.String("CCO")), docval.P("atoms", docval.Int(3)))
func Obj(pairs ...Pair) Object {
	o := make(Object, len(pairs))
	for _, p := range pairs {
		o[p.Key] = p.Value
	}
	return o
}

// P is shorthand for Pair.
func P(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// SortedKeys returns the object's keys in RFC 8785 canonical order
// (UTF-16 code units). Go's sort.Strings compares UTF-8 bytes, which
// orders some astral-plane strings differently.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// compareKeysUTF16 compares strings by UTF-16 code units as required by
// RFC 8785. unicode/utf16.Encode handles surrogate pairs correctly.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// Equal reports whether two values have identical content. Defined in
// terms of the canonical encoding so Equal and MarshalCanonical can
// never disagree.
func Equal(a, b Value) bool {
	ab, errA := MarshalCanonical(a)
	bb, errB := MarshalCanonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Decode parses JSON bytes into a Value. Numbers without a fractional
// part or exponent decode to Int, all others to Float.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return fromAny(raw)
}

// DecodeObject parses JSON bytes that must contain an object.
func DecodeObject(data []byte) (Object, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return obj, nil
}

// fromAny converts a decoded Go value to a Value.
func fromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			n, err := val.Int64()
			if err == nil {
				return Int(n), nil
			}
			// Integral but out of int64 range: fall through to float.
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", s, err)
		}
		return Float(f), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			dv, err := fromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = dv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			dv, err := fromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = dv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*o = make(Object, len(raw))
	for k, v := range raw {
		dv, err := Decode(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*o)[k] = dv
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (a *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = make(Array, len(raw))
	for i, v := range raw {
		dv, err := Decode(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*a)[i] = dv
	}
	return nil
}

// MarshalJSON implements json.Marshaler for Object. Output uses the
// canonical form so that standard-library marshalling of any struct
// embedding an Object stays deterministic.
func (o Object) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(o)
}

// MarshalJSON implements json.Marshaler for Array.
func (a Array) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(a)
}
