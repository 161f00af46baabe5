// Package value implements the telemetry tree carried in a frame's info blob.
//
// A Value is a tagged union of bool, int64, float32, float64, string,
// ordered list and insertion-ordered string-keyed map. The zero Value is
// invalid and fails to encode.
package value

import (
	"fmt"
	"math"
	"strings"
)

// Kind is the wire tag of a Value.
type Kind uint8

const (
	KindInvalid Kind = 0
	KindBool    Kind = 1
	KindInt     Kind = 2
	KindFloat32 Kind = 3
	KindFloat64 Kind = 4
	KindString  Kind = 5
	KindList    Kind = 6
	KindMap     Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one node of a telemetry tree.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f32  float32
	f64  float64
	s    string
	list []Value
	m    *Map
}

func Bool(v bool) Value       { return Value{kind: KindBool, b: v} }
func Int(v int64) Value       { return Value{kind: KindInt, i: v} }
func Float32(v float32) Value { return Value{kind: KindFloat32, f32: v} }
func Float64(v float64) Value { return Value{kind: KindFloat64, f64: v} }
func String(v string) Value   { return Value{kind: KindString, s: v} }

// List returns a list value holding a copy of items.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindList, list: out}
}

// FromMap wraps m as a map value. A nil m becomes an empty map.
func FromMap(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// Number picks the narrowest numeric kind that represents f exactly:
// int64 first, then float32, then float64.
func Number(f float64) Value {
	if isInt64(f) {
		return Int(int64(f))
	}
	if float64(float32(f)) == f {
		return Float32(float32(f))
	}
	return Float64(f)
}

func isInt64(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	if f < -(1<<63) || f >= 1<<63 {
		return false
	}
	return math.Trunc(f) == f
}

func (v Value) Kind() Kind { return v.kind }

// IsScalar reports whether v is a bool, number or string.
func (v Value) IsScalar() bool {
	switch v.kind {
	case KindBool, KindInt, KindFloat32, KindFloat64, KindString:
		return true
	default:
		return false
	}
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

func (v Value) AsFloat32() (float32, bool) {
	return v.f32, v.kind == KindFloat32
}

func (v Value) AsFloat64() (float64, bool) {
	return v.f64, v.kind == KindFloat64
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsNumber widens any numeric kind to float64.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat32:
		return float64(v.f32), true
	case KindFloat64:
		return v.f64, true
	default:
		return 0, false
	}
}

// AsList returns the backing slice of a list value. Callers must not retain it
// across mutations of the owning tree.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsMap() (*Map, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Append returns a list value with item appended. It is a no-op on
// non-list values.
func (v Value) Append(item Value) Value {
	if v.kind != KindList {
		return v
	}
	v.list = append(v.list, item)
	return v
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.list))
		for i, item := range v.list {
			out[i] = item.Clone()
		}
		v.list = out
	case KindMap:
		v.m = v.m.Clone()
	}
	return v
}

// Equal reports deep equality, including map insertion order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInvalid:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat32:
		return math.Float32bits(v.f32) == math.Float32bits(o.f32)
	case KindFloat64:
		return math.Float64bits(v.f64) == math.Float64bits(o.f64)
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat32:
		return fmt.Sprintf("%g", v.f32)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f64)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		return v.m.String()
	default:
		return "<invalid>"
	}
}
