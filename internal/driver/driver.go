// Package driver is the action side of the lockstep protocol. It binds the
// data and barrier ports, accepts the Simulator, and runs one policy turn per
// simulator tick.
package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/action"
	"github.com/danmuck/lockstep/internal/protocol/frame"
	"github.com/danmuck/lockstep/internal/protocol/session"
	"github.com/danmuck/lockstep/internal/protocol/value"
	"github.com/danmuck/lockstep/internal/rendezvous"
	"github.com/rs/zerolog/log"
)

const role = "driver"

type Config struct {
	Layout  frame.Layout
	Limits  frame.Limits
	Session session.Config
	// ActionSize is the length every policy action must have.
	ActionSize int
	// InitFrames nop turns are run by Warmup while the engine loads.
	InitFrames int
	// MaxTimesteps > 0 marks steps at or past the limit as truncated.
	MaxTimesteps int
}

func (c Config) WithDefaults() Config {
	if c.Limits == (frame.Limits{}) {
		c.Limits = frame.DefaultLimits()
	}
	if c.ActionSize <= 0 {
		c.ActionSize = action.Size
	}
	c.Session = c.Session.WithDefaults()
	if c.Session.MaxReadBytes < c.Limits.MaxFrameBytes+c.Limits.MaxInfoBytes {
		c.Session.MaxReadBytes = c.Limits.MaxFrameBytes + c.Limits.MaxInfoBytes
	}
	return c
}

// Observation is one decoded frame plus its telemetry, if any.
type Observation struct {
	frame.Observation
	Info *value.Map
}

// StepResult is the outcome of one turn.
type StepResult struct {
	Observation
	// Step counts turns in the current episode, starting at 1. Terminate
	// starts a new episode.
	Step      int
	Truncated bool
	Action    []byte
	Duration  time.Duration
}

// Policy maps an observation to the action bytes sent back.
type Policy interface {
	Act(obs Observation) ([]byte, error)
}

type PolicyFunc func(obs Observation) ([]byte, error)

func (f PolicyFunc) Act(obs Observation) ([]byte, error) { return f(obs) }

// NopPolicy always answers with action.Nop.
var NopPolicy = PolicyFunc(func(Observation) ([]byte, error) { return action.Nop().Encode(), nil })

type Driver struct {
	cfg Config

	dataSess    *session.Session
	barrierSess *session.Session

	// mu guards the connected streams and counters read by Close and
	// Steps from other goroutines.
	mu      sync.Mutex
	data    rendezvous.Stream
	barrier *rendezvous.Driver
	steps   int
	episode int

	warmed int
}

// Listen binds the data and barrier ports on ephemeral ports.
func Listen(cfg Config) (*Driver, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Layout.Validate(cfg.Limits); err != nil {
		return nil, err
	}
	_, data, err := session.BindAnyPort(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("data channel: %w", err)
	}
	_, bar, err := session.BindAnyPort(cfg.Session.Untimed())
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("barrier channel: %w", err)
	}
	log.Info().Int("data_port", data.Port()).Int("barrier_port", bar.Port()).Str("caps", cfg.Layout.Caps.String()).Msg("driver listening")
	return &Driver{cfg: cfg, dataSess: data, barrierSess: bar}, nil
}

// New runs over already connected streams.
func New(data, barrier rendezvous.Stream, cfg Config) (*Driver, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Layout.Validate(cfg.Limits); err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, data: data, barrier: rendezvous.NewDriver(barrier)}, nil
}

// Ports returns the data and barrier ports to advertise to the Simulator.
func (d *Driver) Ports() (data, barrier int) {
	if d.dataSess == nil {
		return 0, 0
	}
	return d.dataSess.Port(), d.barrierSess.Port()
}

// Accept waits for the Simulator on both ports, sharing one timeout.
func (d *Driver) Accept(timeout time.Duration) error {
	if d.dataSess == nil || d.connectedBarrier() != nil {
		return fmt.Errorf("%w: driver already connected", protocol.ErrInvalidState)
	}
	if timeout <= 0 {
		timeout = d.cfg.Session.AcceptTimeout
	}
	deadline := time.Now().Add(timeout)
	if err := d.dataSess.Accept(timeout); err != nil {
		_ = d.barrierSess.Close()
		return fmt.Errorf("data channel: %w", err)
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	if err := d.barrierSess.Accept(remaining); err != nil {
		_ = d.dataSess.Close()
		return fmt.Errorf("barrier channel: %w", err)
	}
	d.mu.Lock()
	d.data = session.Prefetch(d.dataSess)
	d.barrier = rendezvous.NewDriver(d.barrierSess)
	d.mu.Unlock()
	observability.RecordSessionEvent(role, "accepted")
	log.Info().Str("data_session", d.dataSess.ID()).Str("barrier_session", d.barrierSess.ID()).Msg("simulator accepted")
	return nil
}

func (d *Driver) connectedBarrier() *rendezvous.Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.barrier
}

// Steps counts turns after warm-up across all episodes.
func (d *Driver) Steps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.steps
}

// Warmup runs InitFrames nop turns, discarding their observations.
func (d *Driver) Warmup() error {
	nop := make([]byte, d.cfg.ActionSize)
	for d.warmed < d.cfg.InitFrames {
		if _, err := d.turn(func(Observation) ([]byte, error) { return nop, nil }); err != nil {
			return fmt.Errorf("warmup frame %d: %w", d.warmed, err)
		}
		d.warmed++
	}
	return nil
}

// Step runs one turn: wait for the Simulator, read and decode its frame,
// ask p for an action, write it, release the turn.
func (d *Driver) Step(p Policy) (StepResult, error) {
	res, err := d.turn(p.Act)
	if err != nil {
		return StepResult{}, err
	}
	d.mu.Lock()
	d.steps++
	d.episode++
	res.Step = d.episode
	d.mu.Unlock()
	res.Truncated = d.cfg.MaxTimesteps > 0 && res.Step >= d.cfg.MaxTimesteps
	observability.RecordStep(role, d.cfg.Layout.Size(), int(res.InfoLen), res.Duration)
	return res, nil
}

func (d *Driver) turn(act func(Observation) ([]byte, error)) (StepResult, error) {
	barrier := d.connectedBarrier()
	if barrier == nil {
		return StepResult{}, fmt.Errorf("%w: driver not connected", protocol.ErrInvalidState)
	}
	start := time.Now()
	var res StepResult
	err := barrier.Step(func() error {
		obs, err := d.readObservation()
		if err != nil {
			return err
		}
		out, err := act(obs)
		if err != nil {
			return err
		}
		if len(out) != d.cfg.ActionSize {
			return fmt.Errorf("%w: action %d bytes, want %d", protocol.ErrInvalidLength, len(out), d.cfg.ActionSize)
		}
		if err := d.data.WriteAll(out); err != nil {
			return fmt.Errorf("write action: %w", err)
		}
		res.Observation = obs
		res.Action = out
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (d *Driver) readObservation() (Observation, error) {
	raw, err := d.data.ReadExact(d.cfg.Layout.Size())
	if err != nil {
		return Observation{}, fmt.Errorf("read frame: %w", err)
	}
	fo, err := d.cfg.Layout.Decode(raw)
	if err != nil {
		return Observation{}, err
	}
	obs := Observation{Observation: fo}
	if fo.InfoLen == 0 {
		return obs, nil
	}
	if uint64(fo.InfoLen) > d.cfg.Limits.MaxInfoBytes {
		return Observation{}, fmt.Errorf("%w: info blob %d bytes exceeds limit %d", protocol.ErrAllocationFailure, fo.InfoLen, d.cfg.Limits.MaxInfoBytes)
	}
	blob, err := d.data.ReadExact(int(fo.InfoLen))
	if err != nil {
		return Observation{}, fmt.Errorf("read info: %w", err)
	}
	if obs.Info, err = value.DecodeMap(blob); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

// Terminate sends one turn whose action is a nop with the terminate flag,
// asking the Simulator to soft-reset the episode, and restarts the episode
// step count. It needs the default action encoding.
func (d *Driver) Terminate() (StepResult, error) {
	res, err := d.sendFlag(func(a *action.Action) { a.Terminate = true })
	if err != nil {
		return StepResult{}, err
	}
	d.mu.Lock()
	d.episode = 0
	d.mu.Unlock()
	return res, nil
}

// Kill sends a nop action with the kill flag; the Simulator exits after it.
func (d *Driver) Kill() error {
	_, err := d.sendFlag(func(a *action.Action) { a.Kill = true })
	return err
}

func (d *Driver) sendFlag(set func(*action.Action)) (StepResult, error) {
	if d.cfg.ActionSize != action.Size {
		return StepResult{}, fmt.Errorf("%w: control flags need %d-byte actions", protocol.ErrInvalidLength, action.Size)
	}
	a := action.Nop()
	set(&a)
	return d.turn(func(Observation) ([]byte, error) { return a.Encode(), nil })
}

// Close closes every listener and connection.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	if d.data != nil {
		errs = append(errs, d.data.Close())
	} else if d.dataSess != nil {
		errs = append(errs, d.dataSess.Close())
	}
	if d.barrier != nil {
		errs = append(errs, d.barrier.Close())
	} else if d.barrierSess != nil {
		errs = append(errs, d.barrierSess.Close())
	}
	return errors.Join(errs...)
}
