package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/danmuck/lockstep/internal/protocol"
)

const (
	terminatedLen = 1
	infoLenLen    = 4
	rewardLen     = 8
	// position(3 f32) + velocity(3 f32) + pitch(i32) + yaw(i32) + delta_time(f32)
	poseLen = 3*4 + 3*4 + 4 + 4 + 4

	auxSampleLen = 4
)

// Limits constrains frame and info blob allocation before any read.
type Limits struct {
	MaxFrameBytes uint64
	MaxInfoBytes  uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 256 * 1024 * 1024,
		MaxInfoBytes:  16 * 1024 * 1024,
	}
}

// AuxLayout fixes the auxiliary sample section: Samples entries per channel,
// channel-interleaved on the wire in Channels order.
type AuxLayout struct {
	Channels []string
	Samples  int
}

func (a AuxLayout) size() uint64 {
	return uint64(len(a.Channels)) * uint64(a.Samples) * auxSampleLen
}

// Layout is the per-deployment frame shape. Dimensions are session
// configuration and never travel on the wire.
type Layout struct {
	Width    int
	Height   int
	Channels int
	Caps     protocol.Capability
	Aux      AuxLayout
}

// NewLayout builds the layout fixed by protocol version v.
func NewLayout(v protocol.Version, width, height, channels int, aux AuxLayout) (Layout, error) {
	caps, err := v.Capabilities()
	if err != nil {
		return Layout{}, err
	}
	l := Layout{Width: width, Height: height, Channels: channels, Caps: caps}
	if caps.Has(protocol.CapAux) {
		l.Aux = aux
	}
	return l, l.Validate(DefaultLimits())
}

// Validate checks dimensions and that a whole frame fits in limits.
func (l Layout) Validate(limits Limits) error {
	if l.Width <= 0 || l.Height <= 0 || l.Channels <= 0 {
		return fmt.Errorf("%w: dimensions %dx%dx%d", protocol.ErrInvalidLength, l.Width, l.Height, l.Channels)
	}
	if l.Aux.Samples < 0 {
		return fmt.Errorf("%w: aux samples %d", protocol.ErrInvalidLength, l.Aux.Samples)
	}
	if !l.Caps.Has(protocol.CapAux) && len(l.Aux.Channels) > 0 {
		return fmt.Errorf("%w: aux channels without aux capability", protocol.ErrInvalidLength)
	}
	seen := make(map[string]struct{}, len(l.Aux.Channels))
	for _, name := range l.Aux.Channels {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate aux channel %q", protocol.ErrInvalidLength, name)
		}
		seen[name] = struct{}{}
	}
	total := l.primarySize() + l.Aux.size() + uint64(l.TrailerSize())
	if total > limits.MaxFrameBytes || total > math.MaxInt32 {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit %d", protocol.ErrAllocationFailure, total, limits.MaxFrameBytes)
	}
	return nil
}

func (l Layout) primarySize() uint64 {
	return uint64(l.Width) * uint64(l.Height) * uint64(l.Channels)
}

// PrimarySize is the byte length of the pixel payload.
func (l Layout) PrimarySize() int { return int(l.primarySize()) }

// AuxSize is the byte length of the auxiliary section, 0 without CapAux.
func (l Layout) AuxSize() int {
	if !l.Caps.Has(protocol.CapAux) {
		return 0
	}
	return int(l.Aux.size())
}

// TrailerSize is the fixed tail length implied by the capabilities.
func (l Layout) TrailerSize() int {
	n := rewardLen + terminatedLen
	if l.Caps.Has(protocol.CapInfo) {
		n += infoLenLen
	}
	if l.Caps.Has(protocol.CapPose) {
		n += poseLen
	}
	return n
}

// Size is the full frame length, excluding any info blob.
func (l Layout) Size() int {
	return l.PrimarySize() + l.AuxSize() + l.TrailerSize()
}

// Pose is the agent pose block, present with CapPose.
type Pose struct {
	Position  [3]float32
	Velocity  [3]float32
	Pitch     int32
	Yaw       int32
	DeltaTime float32
}

// Trailer holds the fixed scalar fields at the tail of a frame.
type Trailer struct {
	Pose       Pose
	Reward     float64
	InfoLen    uint32
	Terminated bool
}

// Observation is one decoded frame. Pixels aliases the decoded buffer.
type Observation struct {
	Pixels []byte
	Aux    map[string][]uint32
	Trailer
}

// Encode concatenates pixels, aux samples and the trailer in wire order.
// Trailer fields not covered by the layout's capabilities are dropped.
func (l Layout) Encode(pixels []byte, aux map[string][]uint32, t Trailer) ([]byte, error) {
	if len(pixels) != l.PrimarySize() {
		return nil, fmt.Errorf("%w: pixels %d bytes, want %d", protocol.ErrInvalidLength, len(pixels), l.PrimarySize())
	}
	out := make([]byte, 0, l.Size())
	out = append(out, pixels...)

	if l.Caps.Has(protocol.CapAux) {
		var err error
		if out, err = l.appendAux(out, aux); err != nil {
			return nil, err
		}
	}

	w := tailWriter{buf: out}
	if l.Caps.Has(protocol.CapPose) {
		for _, v := range t.Pose.Position {
			w.f32(v)
		}
		for _, v := range t.Pose.Velocity {
			w.f32(v)
		}
		w.i32(t.Pose.Pitch)
		w.i32(t.Pose.Yaw)
		w.f32(t.Pose.DeltaTime)
	}
	w.f64(t.Reward)
	if l.Caps.Has(protocol.CapInfo) {
		w.u32(t.InfoLen)
	}
	w.bool(t.Terminated)
	return w.buf, nil
}

func (l Layout) appendAux(out []byte, aux map[string][]uint32) ([]byte, error) {
	cols := make([][]uint32, len(l.Aux.Channels))
	for c, name := range l.Aux.Channels {
		buf, ok := aux[name]
		if !ok {
			continue
		}
		if len(buf) != l.Aux.Samples {
			return nil, fmt.Errorf("%w: aux %q has %d samples, want %d", protocol.ErrInvalidLength, name, len(buf), l.Aux.Samples)
		}
		cols[c] = buf
	}
	for i := range l.Aux.Samples {
		for _, col := range cols {
			var v uint32
			if col != nil {
				v = col[i]
			}
			out = binary.LittleEndian.AppendUint32(out, v)
		}
	}
	return out, nil
}

// Decode parses a frame of exactly Size bytes, reading the trailer from the
// tail backward.
func (l Layout) Decode(b []byte) (Observation, error) {
	if len(b) < l.TrailerSize() {
		return Observation{}, fmt.Errorf("%w: %d bytes, trailer needs %d", protocol.ErrTruncatedFrame, len(b), l.TrailerSize())
	}
	r := tailReader{buf: b, end: len(b)}
	var t Trailer
	t.Terminated = r.u8() != 0
	if l.Caps.Has(protocol.CapInfo) {
		t.InfoLen = r.u32()
	}
	t.Reward = r.f64()
	if l.Caps.Has(protocol.CapPose) {
		t.Pose.DeltaTime = r.f32()
		t.Pose.Yaw = r.i32()
		t.Pose.Pitch = r.i32()
		for i := 2; i >= 0; i-- {
			t.Pose.Velocity[i] = r.f32()
		}
		for i := 2; i >= 0; i-- {
			t.Pose.Position[i] = r.f32()
		}
	}

	payload := b[:r.end]
	want := l.PrimarySize() + l.AuxSize()
	if len(payload) < want {
		return Observation{}, fmt.Errorf("%w: payload %d bytes, want %d", protocol.ErrTruncatedFrame, len(payload), want)
	}
	if len(payload) > want {
		return Observation{}, fmt.Errorf("%w: payload %d bytes, want %d", protocol.ErrInvalidLength, len(payload), want)
	}

	obs := Observation{Pixels: payload[:l.PrimarySize()], Trailer: t}
	if l.AuxSize() > 0 {
		obs.Aux = l.splitAux(payload[l.PrimarySize():])
	}
	return obs, nil
}

func (l Layout) splitAux(b []byte) map[string][]uint32 {
	n := len(l.Aux.Channels)
	out := make(map[string][]uint32, n)
	for _, name := range l.Aux.Channels {
		out[name] = make([]uint32, l.Aux.Samples)
	}
	for i := range l.Aux.Samples {
		for c, name := range l.Aux.Channels {
			off := (i*n + c) * auxSampleLen
			out[name][i] = binary.LittleEndian.Uint32(b[off : off+auxSampleLen])
		}
	}
	return out
}
