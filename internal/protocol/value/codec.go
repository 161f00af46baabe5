package value

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/danmuck/lockstep/internal/protocol"
)

// MaxDepth bounds list/map nesting on both encode and decode.
const MaxDepth = 64

const lenSize = 4

// Encode serializes v. Any unsupported node aborts the whole encoding and no
// bytes are returned.
func Encode(v Value) ([]byte, error) {
	out, err := appendValue(nil, v, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeMap serializes m as a top-level map value.
func EncodeMap(m *Map) ([]byte, error) {
	return Encode(FromMap(m))
}

// AppendEncode appends the encoding of v to dst. On error dst is returned
// unchanged.
func AppendEncode(dst []byte, v Value) ([]byte, error) {
	out, err := appendValue(dst, v, 0)
	if err != nil {
		return dst, err
	}
	return out, nil
}

func appendValue(dst []byte, v Value, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", protocol.ErrUnsupportedValueType, MaxDepth)
	}
	switch v.kind {
	case KindBool:
		b := byte(0)
		if v.b {
			b = 1
		}
		return append(dst, byte(KindBool), b), nil
	case KindInt:
		dst = append(dst, byte(KindInt))
		return binary.LittleEndian.AppendUint64(dst, uint64(v.i)), nil
	case KindFloat32:
		dst = append(dst, byte(KindFloat32))
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.f32)), nil
	case KindFloat64:
		dst = append(dst, byte(KindFloat64))
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.f64)), nil
	case KindString:
		if uint64(len(v.s)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: string too long", protocol.ErrUnsupportedValueType)
		}
		if !utf8.ValidString(v.s) {
			return nil, fmt.Errorf("%w: string is not valid utf-8", protocol.ErrUnsupportedValueType)
		}
		dst = append(dst, byte(KindString))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.s)))
		return append(dst, v.s...), nil
	case KindList:
		dst = append(dst, byte(KindList))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.list)))
		var err error
		for _, item := range v.list {
			if dst, err = appendValue(dst, item, depth+1); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case KindMap:
		dst = append(dst, byte(KindMap))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(v.m.Len()))
		var err error
		for _, e := range v.m.Entries() {
			if !utf8.ValidString(e.Key) {
				return nil, fmt.Errorf("%w: map key %q is not valid utf-8", protocol.ErrUnsupportedValueType, e.Key)
			}
			dst = binary.LittleEndian.AppendUint32(dst, uint32(len(e.Key)))
			dst = append(dst, e.Key...)
			if dst, err = appendValue(dst, e.Value, depth+1); err != nil {
				return nil, err
			}
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnsupportedValueType, v.kind)
	}
}

// Decode reads one value from the front of b and returns it with the number
// of bytes consumed. Values packed back-to-back may be read by repeated calls.
func Decode(b []byte) (Value, int, error) {
	d := decoder{buf: b}
	v, err := d.value(0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.off, nil
}

// DecodeAll reads exactly one value spanning all of b.
func DecodeAll(b []byte) (Value, error) {
	v, n, err := Decode(b)
	if err != nil {
		return Value{}, err
	}
	if n != len(b) {
		return Value{}, fmt.Errorf("%w: %d trailing bytes", protocol.ErrMalformedValueTree, len(b)-n)
	}
	return v, nil
}

// DecodeMap reads an info blob, which must hold exactly one map.
func DecodeMap(b []byte) (*Map, error) {
	v, err := DecodeAll(b)
	if err != nil {
		return nil, err
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("%w: top-level %s, want map", protocol.ErrMalformedValueTree, v.kind)
	}
	return m, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", protocol.ErrMalformedValueTree, n, d.off, d.remaining())
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(lenSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid utf-8 at offset %d", protocol.ErrMalformedValueTree, d.off-len(b))
	}
	return string(b), nil
}

// count reads an element count and rejects counts that cannot fit in the
// remaining input, each element needing at least width bytes.
func (d *decoder) count(width int) (int, error) {
	n, err := d.u32()
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(width) > uint64(d.remaining()) {
		return 0, fmt.Errorf("%w: count %d overruns input", protocol.ErrMalformedValueTree, n)
	}
	return int(n), nil
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", protocol.ErrMalformedValueTree, MaxDepth)
	}
	tag, err := d.take(1)
	if err != nil {
		return Value{}, err
	}
	switch Kind(tag[0]) {
	case KindBool:
		b, err := d.take(1)
		if err != nil {
			return Value{}, err
		}
		switch b[0] {
		case 0:
			return Bool(false), nil
		case 1:
			return Bool(true), nil
		default:
			return Value{}, fmt.Errorf("%w: invalid bool byte %d", protocol.ErrMalformedValueTree, b[0])
		}
	case KindInt:
		b, err := d.take(8)
		if err != nil {
			return Value{}, err
		}
		return Int(int64(binary.LittleEndian.Uint64(b))), nil
	case KindFloat32:
		b, err := d.take(4)
		if err != nil {
			return Value{}, err
		}
		return Float32(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case KindFloat64:
		b, err := d.take(8)
		if err != nil {
			return Value{}, err
		}
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	case KindString:
		s, err := d.str()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case KindList:
		n, err := d.count(2)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, n)
		for range n {
			item, err := d.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{kind: KindList, list: items}, nil
	case KindMap:
		n, err := d.count(lenSize + 2)
		if err != nil {
			return Value{}, err
		}
		m := NewMap()
		for range n {
			key, err := d.str()
			if err != nil {
				return Value{}, err
			}
			if m.Has(key) {
				return Value{}, fmt.Errorf("%w: duplicate key %q", protocol.ErrMalformedValueTree, key)
			}
			item, err := d.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			m.Set(key, item)
		}
		return FromMap(m), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown tag %d at offset %d", protocol.ErrMalformedValueTree, tag[0], d.off-1)
	}
}
