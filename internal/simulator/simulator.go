// Package simulator is the tick-loop side of the lockstep protocol: each
// tick it snapshots the environment, sends one frame, hands the turn to the
// Driver and applies the action it gets back.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/action"
	"github.com/danmuck/lockstep/internal/protocol/frame"
	"github.com/danmuck/lockstep/internal/protocol/session"
	"github.com/danmuck/lockstep/internal/protocol/value"
	"github.com/danmuck/lockstep/internal/rendezvous"
	"github.com/danmuck/lockstep/internal/state"
	"github.com/rs/zerolog/log"
)

const role = "simulator"

// ErrKilled reports that the Driver asked the Simulator to exit.
var ErrKilled = errors.New("simulator: killed by driver")

type Config struct {
	Layout  frame.Layout
	Limits  frame.Limits
	Session session.Config
	// ActionSize is the opaque action length. When it equals action.Size the
	// bytes are decoded and the terminate/kill flags applied.
	ActionSize int
	// Frameskip repeats each received action for this many extra ticks
	// without a frame or a turn.
	Frameskip int
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Limits == (frame.Limits{}) {
		c.Limits = frame.DefaultLimits()
	}
	if c.ActionSize <= 0 {
		c.ActionSize = action.Size
	}
	if c.Frameskip < 0 {
		c.Frameskip = 0
	}
	c.Session = c.Session.WithDefaults()
	return c
}

// Sensors is the raw per-tick input the engine renders.
type Sensors struct {
	Pixels []byte
	Pose   frame.Pose
}

// TickResult describes what one Tick did.
type TickResult struct {
	// Raw is the action payload in effect for this tick.
	Raw []byte
	// Action is set when ActionSize equals action.Size.
	Action  action.Action
	Decoded bool
	// Skipped is true for frameskip ticks that sent no frame.
	Skipped  bool
	FrameLen int
	InfoLen  int
}

type Simulator struct {
	cfg     Config
	env     *state.Env
	data    rendezvous.Stream
	barrier *rendezvous.Simulator

	last  TickResult
	skip  int
	ticks uint64
}

// New runs over already connected data and barrier streams.
func New(data, barrier rendezvous.Stream, env *state.Env, cfg Config) (*Simulator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Layout.Validate(cfg.Limits); err != nil {
		return nil, err
	}
	return &Simulator{
		cfg:     cfg,
		env:     env,
		data:    data,
		barrier: rendezvous.NewSimulator(barrier),
	}, nil
}

// Connect dials the Driver's data and barrier ports.
func Connect(ctx context.Context, dataPort, barrierPort int, env *state.Env, cfg Config) (*Simulator, error) {
	cfg = cfg.WithDefaults()
	data, err := session.DialPort(ctx, dataPort, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("data channel: %w", err)
	}
	bar, err := session.DialPort(ctx, barrierPort, cfg.Session.Untimed())
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("barrier channel: %w", err)
	}
	observability.RecordSessionEvent(role, "dialed")
	log.Info().Int("data_port", dataPort).Int("barrier_port", barrierPort).Msg("simulator connected")
	s, err := New(session.Prefetch(data), bar, env, cfg)
	if err != nil {
		_ = data.Close()
		_ = bar.Close()
		return nil, err
	}
	return s, nil
}

func (s *Simulator) Env() *state.Env { return s.env }

// Ticks counts engine ticks, frameskip ticks included.
func (s *Simulator) Ticks() uint64 { return s.ticks }

// Turns counts completed barrier turns.
func (s *Simulator) Turns() uint64 { return s.barrier.Ticks() }

// Tick runs one engine tick. The snapshot is taken and the frame fully
// written before the turn is released.
func (s *Simulator) Tick(in Sensors) (TickResult, error) {
	s.ticks++
	if s.skip > 0 {
		s.skip--
		res := s.last
		res.Skipped = true
		res.FrameLen, res.InfoLen = 0, 0
		return res, nil
	}
	start := time.Now()

	res, err := s.exchange(in)
	if err != nil {
		return TickResult{}, err
	}
	s.last = res
	s.skip = s.cfg.Frameskip
	observability.RecordStep(role, res.FrameLen, res.InfoLen, time.Since(start))

	if res.Decoded {
		if res.Action.Terminate {
			s.env.RequestSoftReset()
		}
		if res.Action.Kill {
			log.Info().Uint64("tick", s.ticks).Msg("kill received")
			return res, ErrKilled
		}
	}
	return res, nil
}

func (s *Simulator) exchange(in Sensors) (TickResult, error) {
	snap := s.env.TakeSnapshot()

	var blob []byte
	if s.cfg.Layout.Caps.Has(protocol.CapInfo) && snap.Info.Len() > 0 {
		var err error
		if blob, err = value.EncodeMap(snap.Info); err != nil {
			return TickResult{}, err
		}
		if uint64(len(blob)) > s.cfg.Limits.MaxInfoBytes {
			return TickResult{}, fmt.Errorf("%w: info blob %d bytes exceeds limit %d", protocol.ErrAllocationFailure, len(blob), s.cfg.Limits.MaxInfoBytes)
		}
	}

	buf, err := s.cfg.Layout.Encode(in.Pixels, snap.Buffers, frame.Trailer{
		Pose:       in.Pose,
		Reward:     snap.Reward,
		InfoLen:    uint32(len(blob)),
		Terminated: snap.Terminated,
	})
	if err != nil {
		return TickResult{}, err
	}
	if err := s.data.WriteAll(buf); err != nil {
		return TickResult{}, fmt.Errorf("write frame: %w", err)
	}
	if len(blob) > 0 {
		if err := s.data.WriteAll(blob); err != nil {
			return TickResult{}, fmt.Errorf("write info: %w", err)
		}
	}

	if err := s.barrier.Step(); err != nil {
		return TickResult{}, fmt.Errorf("barrier: %w", err)
	}

	raw, err := s.data.ReadExact(s.cfg.ActionSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("read action: %w", err)
	}
	res := TickResult{Raw: raw, FrameLen: len(buf), InfoLen: len(blob)}
	if s.cfg.ActionSize == action.Size {
		if res.Action, err = action.Decode(raw); err != nil {
			return TickResult{}, err
		}
		res.Decoded = true
	}
	log.Trace().Uint64("tick", s.ticks).Int("frame", len(buf)).Int("info", len(blob)).Msg("tick exchanged")
	return res, nil
}

// Close closes both streams.
func (s *Simulator) Close() error {
	return errors.Join(s.data.Close(), s.barrier.Close())
}
