package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/action"
	"github.com/danmuck/lockstep/internal/protocol/frame"
	"github.com/danmuck/lockstep/internal/protocol/value"
	"github.com/danmuck/lockstep/internal/script"
	"github.com/danmuck/lockstep/internal/simulator"
	"github.com/danmuck/lockstep/internal/state"
	"github.com/danmuck/lockstep/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const episodeScript = `
def tick():
    n = tick_count()
    set_reward(n)
    set_info("tick", n)
    if n == 4:
        set_termination()
`

func testLayout(t *testing.T) frame.Layout {
	t.Helper()
	l, err := frame.NewLayout(protocol.Version2, 8, 4, 3, frame.AuxLayout{})
	require.NoError(t, err)
	return l
}

type simRun struct {
	sim *simulator.Simulator
	env *state.Env
	err chan error
}

// startSimulator connects a scripted simulator to d and runs it until kill.
func startSimulator(t *testing.T, d *Driver, layout frame.Layout, frameskip int) *simRun {
	t.Helper()
	dataPort, barrierPort := d.Ports()
	env := state.New()
	r, err := script.Compile("episode.star", []byte(episodeScript), env, script.Config{})
	require.NoError(t, err)

	run := &simRun{env: env, err: make(chan error, 1)}
	connected := make(chan error, 1)
	go func() {
		sim, err := simulator.Connect(context.Background(), dataPort, barrierPort, env, simulator.Config{Layout: layout, Frameskip: frameskip})
		connected <- err
		if err != nil {
			return
		}
		run.sim = sim
		defer sim.Close()
		run.err <- sim.Run(context.Background(), sim.PatternSource(), r)
	}()
	require.NoError(t, d.Accept(5*time.Second))
	require.NoError(t, <-connected)
	return run
}

func TestDriverEpisodeOverLoopback(t *testing.T) {
	testlog.Start(t)
	layout := testLayout(t)
	d, err := Listen(Config{Layout: layout, InitFrames: 2, MaxTimesteps: 3})
	require.NoError(t, err)
	defer d.Close()
	dataPort, barrierPort := d.Ports()
	require.NotZero(t, dataPort)
	require.NotZero(t, barrierPort)
	require.NotEqual(t, dataPort, barrierPort)

	run := startSimulator(t, d, layout, 0)
	require.NoError(t, d.Warmup())

	var seen []float64
	for i := 1; i <= 3; i++ {
		res, err := d.Step(PolicyFunc(func(obs Observation) ([]byte, error) {
			require.Len(t, obs.Pixels, layout.PrimarySize())
			var a action.Action
			if err := a.Press("forward"); err != nil {
				return nil, err
			}
			return a.Encode(), nil
		}))
		require.NoError(t, err)
		require.Equal(t, i, res.Step)
		require.Equal(t, i == 3, res.Truncated)
		seen = append(seen, res.Reward)

		tick, ok := res.Info.Get("tick")
		require.True(t, ok)
		require.True(t, tick.Equal(value.Int(int64(i+1))), "tick=%s", tick)
		require.Equal(t, i+1 == 4, res.Terminated)
	}
	require.Equal(t, []float64{2, 3, 4}, seen)

	require.NoError(t, d.Kill())
	require.NoError(t, <-run.err)
	require.Equal(t, uint64(6), run.sim.Turns())
	require.Equal(t, 3, d.Steps())
}

func TestDriverTerminateArmsSoftReset(t *testing.T) {
	testlog.Start(t)
	layout := testLayout(t)
	d, err := Listen(Config{Layout: layout})
	require.NoError(t, err)
	defer d.Close()
	run := startSimulator(t, d, layout, 0)

	_, err = d.Terminate()
	require.NoError(t, err)
	require.NoError(t, d.Kill())
	require.NoError(t, <-run.err)
	require.True(t, run.env.SoftReset())
	require.True(t, run.env.Terminated())
}

func TestDriverSeesOneFramePerFrameskipWindow(t *testing.T) {
	testlog.Start(t)
	layout := testLayout(t)
	d, err := Listen(Config{Layout: layout})
	require.NoError(t, err)
	defer d.Close()
	run := startSimulator(t, d, layout, 2)

	var ticks []int64
	for range 2 {
		res, err := d.Step(NopPolicy)
		require.NoError(t, err)
		v, _ := res.Info.Get("tick")
		n, _ := v.AsInt()
		ticks = append(ticks, n)
	}
	require.Equal(t, []int64{0, 3}, ticks)
	require.NoError(t, d.Kill())
	require.NoError(t, <-run.err)
}

func TestAcceptTimeoutWithoutSimulator(t *testing.T) {
	testlog.Start(t)
	d, err := Listen(Config{Layout: testLayout(t)})
	require.NoError(t, err)
	defer d.Close()
	err = d.Accept(20 * time.Millisecond)
	require.ErrorIs(t, err, protocol.ErrAcceptTimeout)
	_, err = d.Step(NopPolicy)
	require.ErrorIs(t, err, protocol.ErrInvalidState)
}

func TestStepRejectsWrongActionSize(t *testing.T) {
	testlog.Start(t)
	layout := testLayout(t)
	d, err := Listen(Config{Layout: layout})
	require.NoError(t, err)
	run := startSimulator(t, d, layout, 0)

	_, err = d.Step(PolicyFunc(func(Observation) ([]byte, error) { return []byte{1}, nil }))
	require.ErrorIs(t, err, protocol.ErrInvalidLength)

	require.NoError(t, d.Close())
	err = <-run.err
	if !errors.Is(err, protocol.ErrPeerClosed) && !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("simulator should fail on driver close, got %v", err)
	}
}

func TestTruncationCountsPerEpisode(t *testing.T) {
	testlog.Start(t)
	layout := testLayout(t)
	d, err := Listen(Config{Layout: layout, MaxTimesteps: 2})
	require.NoError(t, err)
	defer d.Close()
	run := startSimulator(t, d, layout, 0)

	for i := 1; i <= 2; i++ {
		res, err := d.Step(NopPolicy)
		require.NoError(t, err)
		require.Equal(t, i, res.Step)
		require.Equal(t, i == 2, res.Truncated)
	}
	_, err = d.Terminate()
	require.NoError(t, err)

	res, err := d.Step(NopPolicy)
	require.NoError(t, err)
	require.Equal(t, 1, res.Step)
	require.False(t, res.Truncated)
	require.Equal(t, 3, d.Steps())

	require.NoError(t, d.Kill())
	require.NoError(t, <-run.err)
}

func TestBarrierChannelIgnoresReadTimeout(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Layout: testLayout(t)}
	cfg.Session.ReadTimeout = 50 * time.Millisecond
	d, err := Listen(cfg)
	require.NoError(t, err)
	defer d.Close()
	require.Equal(t, 50*time.Millisecond, d.dataSess.Config().ReadTimeout)
	require.Zero(t, d.barrierSess.Config().ReadTimeout)
	require.Zero(t, d.barrierSess.Config().WriteTimeout)
}

func TestCloseFromAnotherGoroutineDuringAccept(t *testing.T) {
	testlog.Start(t)
	d, err := Listen(Config{Layout: testLayout(t)})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = d.Close()
		_ = d.Steps()
	}()
	err = d.Accept(5 * time.Second)
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
	require.NoError(t, d.Close())
}

func TestScriptlessSimulatorEpisodesEndOnce(t *testing.T) {
	testlog.Start(t)
	layout := testLayout(t)
	d, err := Listen(Config{Layout: layout, MaxTimesteps: 2})
	require.NoError(t, err)
	defer d.Close()
	dataPort, barrierPort := d.Ports()

	runErr := make(chan error, 1)
	go func() {
		sim, err := simulator.Connect(context.Background(), dataPort, barrierPort, state.New(), simulator.Config{Layout: layout})
		if err != nil {
			runErr <- err
			return
		}
		defer sim.Close()
		runErr <- sim.Run(context.Background(), sim.PatternSource(), nil)
	}()
	require.NoError(t, d.Accept(5*time.Second))

	for episode := range 3 {
		for i := 1; i <= 2; i++ {
			res, err := d.Step(NopPolicy)
			require.NoError(t, err)
			require.False(t, res.Terminated, "episode %d step %d", episode, i)
			require.Equal(t, i, res.Step)
			require.Equal(t, i == 2, res.Truncated)
		}
		_, err := d.Terminate()
		require.NoError(t, err)
	}
	require.Equal(t, 6, d.Steps())
	require.NoError(t, d.Kill())
	require.NoError(t, <-runErr)
}
