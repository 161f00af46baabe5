package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

// chunkReader hands out data in a repeating pattern of chunk sizes, with an
// empty non-error read between chunks, then reports io.EOF.
type chunkReader struct {
	data   []byte
	sizes  []int
	next   int
	stalls bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	if r.stalls {
		r.stalls = false
		return 0, nil
	}
	r.stalls = true
	n := r.sizes[r.next%len(r.sizes)]
	r.next++
	n = min(n, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func sequence(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i * 7)
	}
	return out
}

func TestReadExactAssemblesChunks(t *testing.T) {
	testlog.Start(t)
	want := sequence(100)
	r := &chunkReader{data: append([]byte{}, want...), sizes: []int{1, 3, 7}}
	got, err := ReadExact(r, len(want))
	if err != nil {
		t.Fatalf("read exact: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("bytes out of order")
	}
}

func TestReadExactShortStreamIsPeerClosed(t *testing.T) {
	testlog.Start(t)
	for _, k := range []int{0, 1, 9} {
		r := &chunkReader{data: sequence(k), sizes: []int{1, 3, 7}}
		got, err := ReadExact(r, 10)
		if !errors.Is(err, protocol.ErrPeerClosed) {
			t.Fatalf("k=%d: expected ErrPeerClosed, got %v", k, err)
		}
		if got != nil {
			t.Fatalf("k=%d: expected no buffer, got %d bytes", k, len(got))
		}
	}
}

func TestBindAnyPortAssignsDistinctPorts(t *testing.T) {
	testlog.Start(t)
	p1, s1, err := BindAnyPort(DefaultConfig())
	if err != nil {
		t.Fatalf("bind 1: %v", err)
	}
	defer s1.Close()
	p2, s2, err := BindAnyPort(DefaultConfig())
	if err != nil {
		t.Fatalf("bind 2: %v", err)
	}
	defer s2.Close()
	if p1 == 0 || p2 == 0 || p1 == p2 {
		t.Fatalf("ports p1=%d p2=%d", p1, p2)
	}
	if s1.State() != StateListening || s1.Port() != p1 {
		t.Fatalf("state=%s port=%d", s1.State(), s1.Port())
	}
}

func TestAcceptTimeoutClosesSession(t *testing.T) {
	testlog.Start(t)
	_, s, err := BindAnyPort(DefaultConfig())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer s.Close()
	err = s.Accept(20 * time.Millisecond)
	if !errors.Is(err, protocol.ErrAcceptTimeout) {
		t.Fatalf("expected ErrAcceptTimeout, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("state=%s want closed", s.State())
	}
	if err := s.Accept(time.Second); !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func connectedPair(t *testing.T, cfg Config) (*Session, *Session) {
	t.Helper()
	port, server, err := BindAnyPort(cfg)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Accept(5 * time.Second) }()
	client, err := DialPort(context.Background(), port, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

func TestConnectedReadWriteAndPeerClose(t *testing.T) {
	testlog.Start(t)
	server, client := connectedPair(t, DefaultConfig())
	if server.State() != StateConnected || client.State() != StateConnected {
		t.Fatalf("states server=%s client=%s", server.State(), client.State())
	}

	payload := sequence(4096)
	go func() { _ = client.WriteAll(payload) }()
	got, err := server.ReadExact(len(payload))
	if err != nil {
		t.Fatalf("read exact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}

	if err := client.WriteAll([]byte{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = client.Close()
	_, err = server.ReadExact(4)
	if !errors.Is(err, protocol.ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}
	if server.State() != StateClosed {
		t.Fatalf("state=%s want closed", server.State())
	}
	if _, err := server.ReadExact(1); !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("read after close: expected ErrConnectionClosed, got %v", err)
	}
}

func TestSecondPeerIsNotAdmitted(t *testing.T) {
	testlog.Start(t)
	server, _ := connectedPair(t, DefaultConfig())
	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 1
	if _, err := DialPort(context.Background(), server.Port(), cfg); !errors.Is(err, protocol.ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
}

func TestCloseUnblocksReadExact(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	defer remote.Close()
	s := FromConn(local, DefaultConfig())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadExact(8)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, protocol.ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("read did not unblock")
	}
}

func TestCloseUnblocksAccept(t *testing.T) {
	testlog.Start(t)
	_, s, err := BindAnyPort(DefaultConfig())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Accept(10 * time.Second) }()
	time.Sleep(10 * time.Millisecond)
	_ = s.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, protocol.ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("accept did not unblock")
	}
}

func TestReadExactRejectsOversizedRead(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	defer remote.Close()
	cfg := DefaultConfig()
	cfg.MaxReadBytes = 16
	s := FromConn(local, cfg)
	defer s.Close()
	buf, err := s.ReadExact(17)
	if !errors.Is(err, protocol.ErrAllocationFailure) || buf != nil {
		t.Fatalf("expected ErrAllocationFailure, got %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("state=%s want connected", s.State())
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	port, s, err := BindAnyPort(DefaultConfig())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	_ = s.Close()

	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	_, err = DialPort(context.Background(), port, cfg)
	if !errors.Is(err, protocol.ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
}

func TestPrefetchLetsLargeWriteComplete(t *testing.T) {
	testlog.Start(t)
	server, client := connectedPair(t, DefaultConfig())
	p := Prefetch(server)

	payload := sequence(8 * 1024 * 1024)
	if err := client.WriteAll(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = client.Close()

	head, err := p.ReadExact(3)
	if err != nil {
		t.Fatalf("read head: %v", err)
	}
	rest, err := p.ReadExact(len(payload) - 3)
	if err != nil {
		t.Fatalf("read rest: %v", err)
	}
	if !bytes.Equal(append(head, rest...), payload) {
		t.Fatalf("payload mismatch")
	}
	if _, err := p.ReadExact(1); !errors.Is(err, protocol.ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}
}

func TestPrefetchCloseUnblocksReader(t *testing.T) {
	testlog.Start(t)
	server, _ := connectedPair(t, DefaultConfig())
	p := Prefetch(server)
	errCh := make(chan error, 1)
	go func() {
		_, err := p.ReadExact(4)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_ = p.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, protocol.ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("prefetch read did not unblock")
	}
}

func TestPrefetchHonorsReadTimeout(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	defer remote.Close()
	cfg := DefaultConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	p := Prefetch(FromConn(local, cfg))
	defer p.Close()

	start := time.Now()
	_, err := p.ReadExact(4)
	if !errors.Is(err, protocol.ErrIO) || !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected timed out ErrIO, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}

	go func() { _, _ = remote.Write([]byte{1, 2, 3, 4}) }()
	got, err := p.ReadExact(4)
	if err != nil {
		t.Fatalf("read after timeout: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("got %v", got)
	}
}

func TestReadTimeoutAfterPartialReadClosesSession(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.ReadTimeout = 100 * time.Millisecond

	idleLocal, idleRemote := net.Pipe()
	defer idleRemote.Close()
	idle := FromConn(idleLocal, cfg)
	defer idle.Close()
	if _, err := idle.ReadExact(4); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if st := idle.State(); st != StateConnected {
		t.Fatalf("timeout with nothing read should stay connected, state=%s", st)
	}

	local, remote := net.Pipe()
	defer remote.Close()
	s := FromConn(local, cfg)
	defer s.Close()
	go func() { _, _ = remote.Write([]byte{9, 9}) }()
	if _, err := s.ReadExact(4); !errors.Is(err, protocol.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if st := s.State(); st != StateClosed {
		t.Fatalf("partial read timeout should close, state=%s", st)
	}
}

func TestUntimedConfigBlocksPastReadTimeout(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	cfg.WriteTimeout = 50 * time.Millisecond
	untimed := cfg.Untimed()
	if untimed.ReadTimeout != 0 || untimed.WriteTimeout != 0 {
		t.Fatalf("untimed config kept deadlines: %+v", untimed)
	}

	local, remote := net.Pipe()
	s := FromConn(local, untimed)
	defer s.Close()
	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadExact(1)
		errCh <- err
	}()
	select {
	case err := <-errCh:
		t.Fatalf("untimed read returned early: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	_, _ = remote.Write([]byte{'S'})
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("read did not complete")
	}
	_ = remote.Close()
}
