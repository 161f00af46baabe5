package state

import (
	"maps"

	"github.com/danmuck/lockstep/internal/protocol/value"
)

// Env is the mutable environment state scripting primitives act on.
type Env struct {
	reward     float64
	resetArmed bool
	resetTo    float64

	terminated bool
	softReset  bool

	info    *value.Map
	buffers map[string][]uint32
}

func New() *Env {
	return &Env{info: value.NewMap(), buffers: make(map[string][]uint32)}
}

// SetReward overwrites the current reward. A reset armed by SetRewardOnce
// stays armed and still applies after the next snapshot.
func (e *Env) SetReward(v float64) { e.reward = v }

// SetRewardOnce sets v for the next snapshot only; later snapshots see
// resetTo until the reward is changed again.
func (e *Env) SetRewardOnce(v, resetTo float64) {
	e.reward = v
	e.resetTo = resetTo
	e.resetArmed = true
}

func (e *Env) Reward() float64 { return e.reward }

// Terminate sets the sticky termination flag.
func (e *Env) Terminate() { e.terminated = true }

// RequestSoftReset marks the episode for a soft reset, which also terminates it.
func (e *Env) RequestSoftReset() {
	e.softReset = true
	e.terminated = true
}

// ResetTermination clears both termination and soft reset.
func (e *Env) ResetTermination() {
	e.terminated = false
	e.softReset = false
}

func (e *Env) Terminated() bool { return e.terminated }
func (e *Env) SoftReset() bool  { return e.softReset }

// SetInfo stores a scalar under key. Non-scalar values are ignored.
func (e *Env) SetInfo(key string, v value.Value) bool {
	if !v.IsScalar() {
		return false
	}
	e.info.Set(key, v)
	return true
}

// GetInfo returns the scalar under key. Lists and maps report not found.
func (e *Env) GetInfo(key string) (value.Value, bool) {
	v, ok := e.info.Get(key)
	if !ok || !v.IsScalar() {
		return value.Value{}, false
	}
	return v, true
}

func (e *Env) RemoveInfo(key string) { e.info.Delete(key) }

func (e *Env) ContainsInfo(key string) bool { return e.info.Has(key) }

// ResetInfo empties the info bag. Nothing else ever clears it.
func (e *Env) ResetInfo() { e.info.Clear() }

// SetEmptyList replaces whatever key holds with an empty list.
func (e *Env) SetEmptyList(key string) { e.info.Set(key, value.List()) }

// AppendToList appends a scalar to the list under key, creating the list if
// key is absent. It is a no-op when key holds anything but a list.
func (e *Env) AppendToList(key string, v value.Value) bool {
	if !v.IsScalar() {
		return false
	}
	cur, ok := e.info.Get(key)
	if !ok {
		e.info.Set(key, value.List(v))
		return true
	}
	if cur.Kind() != value.KindList {
		return false
	}
	e.info.Set(key, cur.Append(v))
	return true
}

// SetEmptyMap replaces whatever key holds with an empty map.
func (e *Env) SetEmptyMap(key string) { e.info.Set(key, value.FromMap(nil)) }

// SetInMap stores a scalar at key[subkey], creating the map if key is
// absent. It is a no-op when key holds anything but a map.
func (e *Env) SetInMap(key, subkey string, v value.Value) bool {
	if !v.IsScalar() {
		return false
	}
	cur, ok := e.info.Get(key)
	if !ok {
		m := value.NewMap()
		m.Set(subkey, v)
		e.info.Set(key, value.FromMap(m))
		return true
	}
	m, isMap := cur.AsMap()
	if !isMap {
		return false
	}
	m.Set(subkey, v)
	return true
}

// MapContains reports whether key holds a map containing subkey.
func (e *Env) MapContains(key, subkey string) bool {
	cur, ok := e.info.Get(key)
	if !ok {
		return false
	}
	m, isMap := cur.AsMap()
	return isMap && m.Has(subkey)
}

func (e *Env) GetFromMap(key, subkey string) (value.Value, bool) {
	cur, ok := e.info.Get(key)
	if !ok {
		return value.Value{}, false
	}
	m, isMap := cur.AsMap()
	if !isMap {
		return value.Value{}, false
	}
	return m.Get(subkey)
}

// ReplaceBuffer swaps in a copy of samples as the whole buffer name.
func (e *Env) ReplaceBuffer(name string, samples []uint32) {
	e.buffers[name] = append([]uint32(nil), samples...)
}

// Buffer returns the current buffer. Callers must not modify it.
func (e *Env) Buffer(name string) ([]uint32, bool) {
	b, ok := e.buffers[name]
	return b, ok
}

// Snapshot is one tick's consistent view of Env.
type Snapshot struct {
	Reward     float64
	Terminated bool
	SoftReset  bool
	Info       *value.Map
	// Buffers shares the stored slices; ReplaceBuffer never writes into a
	// slice once it is stored.
	Buffers map[string][]uint32
}

// TakeSnapshot captures the current state, then applies any armed reward
// reset so the following snapshot sees the reset value. Call it once per tick.
func (e *Env) TakeSnapshot() Snapshot {
	s := Snapshot{
		Reward:     e.reward,
		Terminated: e.terminated,
		SoftReset:  e.softReset,
		Info:       e.info.Clone(),
		Buffers:    maps.Clone(e.buffers),
	}
	if e.resetArmed {
		e.reward = e.resetTo
		e.resetArmed = false
	}
	return s
}
