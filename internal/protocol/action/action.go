// Package action encodes the default Driver->Simulator action bytes: one
// byte per virtual key, two little-endian int16 mouse deltas, then the
// terminate and kill flags.
package action

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/danmuck/lockstep/internal/protocol"
)

const (
	NumKeys = 21
	// Size is the encoded action length.
	Size = NumKeys + 2 + 2 + 1 + 1
)

// KeyOrder is the wire position of each virtual key.
var KeyOrder = [NumKeys]string{
	"forward", "backward", "left", "right", "jump", "aux1", "sneak",
	"zoom", "dig", "place", "drop", "inventory",
	"slot_1", "slot_2", "slot_3", "slot_4", "slot_5", "slot_6", "slot_7", "slot_8", "slot_9",
}

// KeyIndex returns the wire position of key.
func KeyIndex(key string) (int, bool) {
	for i, k := range KeyOrder {
		if k == key {
			return i, true
		}
	}
	return -1, false
}

type Action struct {
	Keys      [NumKeys]bool
	MouseX    int16
	MouseY    int16
	Terminate bool
	Kill      bool
}

// Nop presses nothing and moves nothing.
func Nop() Action { return Action{} }

// Press sets the named keys. Unknown names fail with ErrInvalidLength.
func (a *Action) Press(keys ...string) error {
	for _, k := range keys {
		i, ok := KeyIndex(k)
		if !ok {
			return fmt.Errorf("%w: unknown key %q", protocol.ErrInvalidLength, k)
		}
		a.Keys[i] = true
	}
	return nil
}

// SetMouse maps unit deltas in [-1, 1] to pixel deltas over half the
// observation size. Positive y moves the view up.
func (a *Action) SetMouse(x, y float64, width, height int) {
	a.MouseX = clampInt16(x * float64(width/2))
	a.MouseY = clampInt16(-y * float64(height/2))
}

func clampInt16(f float64) int16 {
	switch {
	case math.IsNaN(f):
		return 0
	case f > math.MaxInt16:
		return math.MaxInt16
	case f < math.MinInt16:
		return math.MinInt16
	default:
		return int16(f)
	}
}

func (a Action) Encode() []byte {
	return a.AppendEncode(make([]byte, 0, Size))
}

func (a Action) AppendEncode(dst []byte) []byte {
	for _, k := range a.Keys {
		dst = append(dst, boolByte(k))
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(a.MouseX))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(a.MouseY))
	return append(dst, boolByte(a.Terminate), boolByte(a.Kill))
}

// Decode parses exactly Size bytes. Any nonzero key or flag byte is set.
func Decode(b []byte) (Action, error) {
	if len(b) != Size {
		return Action{}, fmt.Errorf("%w: action %d bytes, want %d", protocol.ErrInvalidLength, len(b), Size)
	}
	var a Action
	for i := range NumKeys {
		a.Keys[i] = b[i] != 0
	}
	a.MouseX = int16(binary.LittleEndian.Uint16(b[NumKeys:]))
	a.MouseY = int16(binary.LittleEndian.Uint16(b[NumKeys+2:]))
	a.Terminate = b[NumKeys+4] != 0
	a.Kill = b[NumKeys+5] != 0
	return a, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
