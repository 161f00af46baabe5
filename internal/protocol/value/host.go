package value

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/danmuck/lockstep/internal/protocol"
)

// FromAny converts a Go value into a Value. Plain numbers go through Number,
// so float64(3) becomes an Int. Go maps are keyed in sorted order since their
// iteration order is random. Any unsupported node fails the whole conversion.
func FromAny(v any) (Value, error) {
	return fromAny(v, 0)
}

func fromAny(v any, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", protocol.ErrUnsupportedValueType, MaxDepth)
	}
	switch v := v.(type) {
	case Value:
		return v, nil
	case *Map:
		return FromMap(v), nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case float32:
		return Float32(v), nil
	case float64:
		return Number(v), nil
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			conv, err := fromAny(item, depth+1)
			if err != nil {
				return Value{}, err
			}
			items[i] = conv
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			conv, err := fromAny(v[k], depth+1)
			if err != nil {
				return Value{}, err
			}
			m.Set(k, conv)
		}
		return FromMap(m), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		items := make([]Value, rv.Len())
		for i := range rv.Len() {
			conv, err := fromAny(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return Value{}, err
			}
			items[i] = conv
		}
		return Value{kind: KindList, list: items}, nil
	}
	return Value{}, fmt.Errorf("%w: %T", protocol.ErrUnsupportedValueType, v)
}

// ToAny converts v into plain Go values: bool, int64, float32, float64,
// string, []any and map[string]any.
func ToAny(v Value) any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat32:
		return v.f32
	case KindFloat64:
		return v.f64
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = ToAny(item)
		}
		return out
	case KindMap:
		out := make(map[string]any, v.m.Len())
		for _, e := range v.m.Entries() {
			out[e.Key] = ToAny(e.Value)
		}
		return out
	default:
		return nil
	}
}
