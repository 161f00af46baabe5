package simulator

import (
	"context"
	"errors"

	"github.com/danmuck/lockstep/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Source renders the sensors for one tick.
type Source interface {
	Sense(tick uint64) (Sensors, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(tick uint64) (Sensors, error)

func (f SourceFunc) Sense(tick uint64) (Sensors, error) { return f(tick) }

// Script mutates the environment once per tick, before the snapshot.
type Script interface {
	Tick() error
}

// Run ticks until ctx is done, the Driver sends kill, or a tick fails. A
// kill returns nil.
//
// script may be nil. Without a script nothing else answers a soft reset, so
// Run starts the new episode itself: a reset requested by the Driver clears
// termination before the next frame is sent.
func (s *Simulator) Run(ctx context.Context, src Source, script Script) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if script != nil {
			if err := script.Tick(); err != nil {
				return err
			}
		} else if s.env.SoftReset() {
			s.env.ResetTermination()
			log.Debug().Uint64("tick", s.ticks).Msg("episode reset")
		}
		in, err := src.Sense(s.ticks)
		if err != nil {
			return err
		}
		if _, err := s.Tick(in); err != nil {
			if errors.Is(err, ErrKilled) {
				log.Info().Uint64("ticks", s.ticks).Uint64("turns", s.Turns()).Msg("simulator stopped by driver")
				return nil
			}
			return err
		}
	}
}

// PatternSource renders a moving gradient of the layout's size, for running
// without an engine attached.
func (s *Simulator) PatternSource() Source {
	l := s.cfg.Layout
	return SourceFunc(func(tick uint64) (Sensors, error) {
		px := make([]byte, l.PrimarySize())
		for y := range l.Height {
			for x := range l.Width {
				base := (y*l.Width + x) * l.Channels
				for c := range l.Channels {
					px[base+c] = byte(uint64(x+y+c*64) + tick)
				}
			}
		}
		return Sensors{Pixels: px, Pose: patternPose(tick)}, nil
	})
}

func patternPose(tick uint64) (p frame.Pose) {
	p.Yaw = int32(tick % 360)
	p.DeltaTime = 0.05
	return p
}
