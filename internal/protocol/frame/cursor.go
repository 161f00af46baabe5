package frame

import (
	"encoding/binary"
	"math"
)

// tailWriter appends trailer fields in wire order.
type tailWriter struct {
	buf []byte
}

func (w *tailWriter) bool(v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	w.buf = append(w.buf, b)
}

func (w *tailWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *tailWriter) i32(v int32)  { w.u32(uint32(v)) }
func (w *tailWriter) f32(v float32) {
	w.u32(math.Float32bits(v))
}
func (w *tailWriter) f64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// tailReader consumes fields from the end of buf toward the front. Callers
// bound the total read by the layout's trailer size before the first call.
type tailReader struct {
	buf []byte
	end int
}

func (r *tailReader) back(n int) []byte {
	r.end -= n
	return r.buf[r.end : r.end+n]
}

func (r *tailReader) u8() byte     { return r.back(1)[0] }
func (r *tailReader) u32() uint32  { return binary.LittleEndian.Uint32(r.back(4)) }
func (r *tailReader) i32() int32   { return int32(r.u32()) }
func (r *tailReader) f32() float32 { return math.Float32frombits(r.u32()) }
func (r *tailReader) f64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(r.back(8)))
}
