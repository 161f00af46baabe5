package script

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/lockstep/internal/state"
	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var (
	ErrNoTickFunction = errors.New("script: missing tick function")
	ErrTickFailed     = errors.New("script: tick failed")
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Config bounds script execution.
type Config struct {
	// MaxSteps caps Starlark steps per tick; 0 is unlimited.
	MaxSteps uint64
}

// Runner holds a compiled script bound to one Env.
type Runner struct {
	name  string
	env   *state.Env
	cfg   Config
	tick  starlark.Callable
	ticks uint64
}

// Load reads and compiles the script at path.
func Load(path string, env *state.Env, cfg Config) (*Runner, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", path, err)
	}
	return Compile(path, src, env, cfg)
}

// Compile executes src once with the state primitives predeclared and binds
// its tick function.
func Compile(name string, src []byte, env *state.Env, cfg Config) (*Runner, error) {
	r := &Runner{name: name, env: env, cfg: cfg}
	globals, err := starlark.ExecFileOptions(fileOptions, r.thread(), name, src, r.builtins())
	if err != nil {
		return nil, fmt.Errorf("script: load %s: %w", name, err)
	}
	fn, ok := globals["tick"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTickFunction, name)
	}
	r.tick = fn
	log.Debug().Str("script", name).Int("globals", len(globals)).Msg("script loaded")
	return r, nil
}

func (r *Runner) thread() *starlark.Thread {
	t := &starlark.Thread{
		Name: r.name,
		Print: func(_ *starlark.Thread, msg string) {
			log.Info().Str("script", r.name).Uint64("tick", r.ticks).Msg(msg)
		},
	}
	if r.cfg.MaxSteps > 0 {
		t.SetMaxExecutionSteps(r.cfg.MaxSteps)
	}
	return t
}

// Tick runs tick() once and advances the tick counter.
func (r *Runner) Tick() error {
	if _, err := starlark.Call(r.thread(), r.tick, nil, nil); err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			log.Debug().Str("script", r.name).Str("backtrace", evalErr.Backtrace()).Msg("tick failed")
		}
		return fmt.Errorf("%w: tick %d: %w", ErrTickFailed, r.ticks, err)
	}
	r.ticks++
	return nil
}

// Ticks counts completed tick() calls.
func (r *Runner) Ticks() uint64 { return r.ticks }
