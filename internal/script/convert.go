package script

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/value"
	"go.starlark.net/starlark"
)

// toScalar converts a Starlark argument into a telemetry scalar. Numbers go
// through the numeric tie-break so 3.0 and 3 both become Int.
func toScalar(v starlark.Value) (value.Value, error) {
	switch v := v.(type) {
	case starlark.Bool:
		return value.Bool(bool(v)), nil
	case starlark.String:
		if !utf8.ValidString(string(v)) {
			return value.Value{}, fmt.Errorf("%w: string is not valid utf-8", protocol.ErrUnsupportedValueType)
		}
		return value.String(string(v)), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return value.Int(i), nil
		}
		f, _ := starlark.AsFloat(v)
		return value.Number(f), nil
	case starlark.Float:
		return value.Number(float64(v)), nil
	default:
		return value.Value{}, fmt.Errorf("%w: starlark %s", protocol.ErrUnsupportedValueType, v.Type())
	}
}

// checkKeys rejects info keys that could not be encoded.
func checkKeys(keys ...string) error {
	for _, k := range keys {
		if !utf8.ValidString(k) {
			return fmt.Errorf("%w: key %q is not valid utf-8", protocol.ErrUnsupportedValueType, k)
		}
	}
	return nil
}

func fromScalar(v value.Value) starlark.Value {
	switch v.Kind() {
	case value.KindBool:
		b, _ := v.AsBool()
		return starlark.Bool(b)
	case value.KindInt:
		i, _ := v.AsInt()
		return starlark.MakeInt64(i)
	case value.KindFloat32, value.KindFloat64:
		f, _ := v.AsNumber()
		return starlark.Float(f)
	case value.KindString:
		s, _ := v.AsString()
		return starlark.String(s)
	default:
		return starlark.None
	}
}

func toNumber(fn string, v starlark.Value) (float64, error) {
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s: want number, got %s", fn, v.Type())
	}
	return f, nil
}

func toSamples(fn string, v starlark.Value) ([]uint32, error) {
	iter, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: want list of ints, got %s", fn, v.Type())
	}
	var out []uint32
	if seq, ok := v.(starlark.Sequence); ok {
		out = make([]uint32, 0, seq.Len())
	}
	it := iter.Iterate()
	defer it.Done()
	var item starlark.Value
	for it.Next(&item) {
		i, ok := item.(starlark.Int)
		if !ok {
			return nil, fmt.Errorf("%s: sample %d is %s, want int", fn, len(out), item.Type())
		}
		u, ok := i.Uint64()
		if !ok || u > math.MaxUint32 {
			return nil, fmt.Errorf("%s: sample %d out of uint32 range", fn, len(out))
		}
		out = append(out, uint32(u))
	}
	return out, nil
}
