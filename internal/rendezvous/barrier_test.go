package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/session"
	"github.com/danmuck/lockstep/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func pipePair() (*session.Session, *session.Session) {
	a, b := net.Pipe()
	return session.FromConn(a, session.DefaultConfig()), session.FromConn(b, session.DefaultConfig())
}

func tcpPair(t *testing.T) (*session.Session, *session.Session) {
	t.Helper()
	port, server, err := session.BindAnyPort(session.DefaultConfig())
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- server.Accept(5 * time.Second) }()
	client, err := session.DialPort(context.Background(), port, session.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, <-done)
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

func TestBarrierAlternatesThousandTicks(t *testing.T) {
	testlog.Start(t)
	simStream, drvStream := pipePair()
	sim := NewSimulator(simStream)
	drv := NewDriver(drvStream)
	defer sim.Close()
	defer drv.Close()

	const ticks = 1000
	var produced atomic.Int64
	simErr := make(chan error, 1)
	go func() {
		for i := range ticks {
			produced.Store(int64(i))
			if err := sim.Step(); err != nil {
				simErr <- fmt.Errorf("sim tick %d: %w", i, err)
				return
			}
		}
		simErr <- nil
	}()

	for i := range ticks {
		err := drv.Step(func() error {
			if got := produced.Load(); got != int64(i) {
				return fmt.Errorf("driver turn %d observed simulator tick %d", i, got)
			}
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, <-simErr)
	require.Equal(t, uint64(ticks), sim.Ticks())
	require.Equal(t, uint64(ticks), drv.Ticks())
	require.Equal(t, PhaseIdle, sim.Phase())
}

func TestBarrierRejectsOverlappingStep(t *testing.T) {
	testlog.Start(t)
	_, drvStream := pipePair()
	drv := NewDriver(drvStream)

	errCh := make(chan error, 1)
	go func() { errCh <- drv.Step(nil) }()
	require.Eventually(t, func() bool { return drv.Phase() == PhaseDriverWaiting }, time.Second, time.Millisecond)

	err := drv.Step(nil)
	require.ErrorIs(t, err, protocol.ErrBarrierDesync)

	require.NoError(t, drv.Close())
	require.ErrorIs(t, <-errCh, protocol.ErrConnectionClosed)
	require.Equal(t, uint64(0), drv.Ticks())
}

func TestBarrierCloseUnblocksWaitingSimulator(t *testing.T) {
	testlog.Start(t)
	simStream, drvStream := tcpPair(t)
	sim := NewSimulator(simStream)

	errCh := make(chan error, 1)
	go func() { errCh <- sim.Step() }()
	require.Eventually(t, func() bool { return sim.Phase() == PhaseSimulatorWaiting }, time.Second, time.Millisecond)

	require.NoError(t, drvStream.Close())
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, protocol.ErrPeerClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("simulator wait did not unblock")
	}
}

func TestBarrierSameRolePairDesyncs(t *testing.T) {
	testlog.Start(t)
	a, b := tcpPair(t)
	left, right := NewSimulator(a), NewSimulator(b)

	errCh := make(chan error, 2)
	go func() { errCh <- left.Step() }()
	go func() { errCh <- right.Step() }()
	for range 2 {
		require.ErrorIs(t, <-errCh, protocol.ErrBarrierDesync)
	}
}

func TestDriverTurnErrorWithholdsRelease(t *testing.T) {
	testlog.Start(t)
	simStream, drvStream := tcpPair(t)
	sim, drv := NewSimulator(simStream), NewDriver(drvStream)

	simErr := make(chan error, 1)
	go func() { simErr <- sim.Step() }()

	boom := errors.New("policy failed")
	require.ErrorIs(t, drv.Step(func() error { return boom }), boom)
	require.Equal(t, uint64(0), drv.Ticks())

	require.NoError(t, drv.Close())
	require.ErrorIs(t, <-simErr, protocol.ErrPeerClosed)
}
