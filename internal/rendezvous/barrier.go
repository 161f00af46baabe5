package rendezvous

import (
	"fmt"
	"sync/atomic"

	"github.com/danmuck/lockstep/internal/protocol"
)

// Stream is the two-party byte stream a barrier signals over.
type Stream interface {
	ReadExact(n int) ([]byte, error)
	WriteAll(b []byte) error
	Close() error
}

// Phase is the barrier position as seen by one party.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseSimulatorWaiting
	PhaseDriverWaiting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSimulatorWaiting:
		return "simulator_waiting"
	case PhaseDriverWaiting:
		return "driver_waiting"
	default:
		return fmt.Sprintf("phase(%d)", uint32(p))
	}
}

// Role-specific tokens; a pair wired with the same role on both ends
// fails on the first tick.
const (
	simulatorToken byte = 'S'
	driverToken    byte = 'D'
)

type barrier struct {
	stream Stream
	send   byte
	expect byte
	wait   Phase

	stepping atomic.Bool
	phase    atomic.Uint32
	ticks    atomic.Uint64
}

func (b *barrier) begin() error {
	if !b.stepping.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: step already in progress", protocol.ErrBarrierDesync)
	}
	return nil
}

func (b *barrier) end() { b.stepping.Store(false) }

func (b *barrier) release() error {
	return b.stream.WriteAll([]byte{b.send})
}

func (b *barrier) waitPeer() error {
	b.phase.Store(uint32(b.wait))
	defer b.phase.Store(uint32(PhaseIdle))
	tok, err := b.stream.ReadExact(1)
	if err != nil {
		return err
	}
	if tok[0] != b.expect {
		return fmt.Errorf("%w: token %q, want %q", protocol.ErrBarrierDesync, tok[0], b.expect)
	}
	return nil
}

// Ticks counts completed steps.
func (b *barrier) Ticks() uint64 { return b.ticks.Load() }

func (b *barrier) Phase() Phase { return Phase(b.phase.Load()) }

func (b *barrier) Close() error { return b.stream.Close() }

// Simulator is the barrier half that finishes its work first each tick.
type Simulator struct {
	barrier
}

func NewSimulator(s Stream) *Simulator {
	return &Simulator{barrier{stream: s, send: simulatorToken, expect: driverToken, wait: PhaseSimulatorWaiting}}
}

// Step grants the Driver its turn, then blocks until the Driver hands it
// back. Everything written to the data stream before Step is visible to the
// Driver's turn.
func (b *Simulator) Step() error {
	if err := b.begin(); err != nil {
		return err
	}
	defer b.end()
	if err := b.release(); err != nil {
		return err
	}
	if err := b.waitPeer(); err != nil {
		return err
	}
	b.ticks.Add(1)
	return nil
}

// Driver is the barrier half that takes its turn after the Simulator.
type Driver struct {
	barrier
}

func NewDriver(s Stream) *Driver {
	return &Driver{barrier{stream: s, send: driverToken, expect: simulatorToken, wait: PhaseDriverWaiting}}
}

// Step waits for the Simulator, runs turn, then hands the turn back. If turn
// fails the turn is not released and the error is returned; the caller is
// expected to Close, which unblocks the Simulator.
func (b *Driver) Step(turn func() error) error {
	if err := b.begin(); err != nil {
		return err
	}
	defer b.end()
	if err := b.waitPeer(); err != nil {
		return err
	}
	if turn != nil {
		if err := turn(); err != nil {
			return err
		}
	}
	if err := b.release(); err != nil {
		return err
	}
	b.ticks.Add(1)
	return nil
}
