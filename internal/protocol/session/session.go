package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is the session lifecycle position.
type State uint8

const (
	StateUnbound State = iota
	StateBound
	StateListening
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Session holds one listener and at most one connected peer.
// ReadExact and WriteAll are meant for a single goroutine each; Close and
// State are safe from any goroutine.
type Session struct {
	id  string
	cfg Config

	mu     sync.Mutex
	state  State
	ln     net.Listener
	conn   net.Conn
	port   int
	closed bool // set by Close
}

func newSession(cfg Config) *Session {
	return &Session{id: uuid.NewString(), cfg: cfg.WithDefaults()}
}

// BindAnyPort binds cfg.Host on an OS-assigned port and starts listening.
// Go binds and listens in one step, so the returned session is Listening.
func BindAnyPort(cfg Config) (int, *Session, error) {
	s := newSession(cfg)
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, "0"))
	if err != nil {
		s.state = StateClosed
		if isBindErr(err) {
			return 0, nil, fmt.Errorf("%w: %w", protocol.ErrBindFailed, err)
		}
		return 0, nil, fmt.Errorf("%w: %w", protocol.ErrListenFailed, err)
	}
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok || addr.Port == 0 {
		_ = ln.Close()
		return 0, nil, fmt.Errorf("%w: no port assigned for %s", protocol.ErrBindFailed, ln.Addr())
	}
	s.ln = ln
	s.port = addr.Port
	s.state = StateListening
	log.Debug().Str("session", s.id).Int("port", s.port).Msg("session listening")
	return s.port, s, nil
}

func isBindErr(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) ||
		errors.Is(err, syscall.EADDRNOTAVAIL) ||
		errors.Is(err, syscall.EACCES)
}

// FromConn wraps an already connected stream.
func FromConn(conn net.Conn, cfg Config) *Session {
	s := newSession(cfg)
	s.conn = conn
	s.state = StateConnected
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.port = addr.Port
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Port is the bound port, or the remote port for dialed sessions.
func (s *Session) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Session) Config() Config { return s.cfg }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Accept waits up to timeout for the single peer. A zero timeout uses the
// configured AcceptTimeout. On timeout or failure the listener is closed and
// the session moves to Closed. The listener is also closed after a
// successful accept; no second peer is admitted.
func (s *Session) Accept(timeout time.Duration) error {
	s.mu.Lock()
	if s.state != StateListening {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: accept in state %s", protocol.ErrInvalidState, st)
	}
	ln := s.ln
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = s.cfg.AcceptTimeout
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(timeout))
	}
	conn, err := ln.Accept()
	_ = ln.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ln = nil
	if err != nil {
		s.state = StateClosed
		if s.closed {
			return fmt.Errorf("%w: accept interrupted by close", protocol.ErrConnectionClosed)
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			log.Warn().Str("session", s.id).Dur("timeout", timeout).Msg("accept timed out")
			return fmt.Errorf("%w: no peer within %s", protocol.ErrAcceptTimeout, timeout)
		}
		return fmt.Errorf("%w: %w", protocol.ErrAcceptFailed, err)
	}
	if s.closed {
		_ = conn.Close()
		return fmt.Errorf("%w: closed during accept", protocol.ErrConnectionClosed)
	}
	s.conn = conn
	s.state = StateConnected
	log.Debug().Str("session", s.id).Str("peer", conn.RemoteAddr().String()).Msg("peer accepted")
	return nil
}

func (s *Session) connected() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		if s.state == StateClosed {
			return nil, protocol.ErrConnectionClosed
		}
		return nil, fmt.Errorf("%w: io in state %s", protocol.ErrInvalidState, s.state)
	}
	return s.conn, nil
}

// ReadExact reads exactly n bytes. A peer close at any point, including
// before the first byte, reports ErrPeerClosed and closes the session; no
// partial buffer is returned.
func (s *Session) ReadExact(n int) ([]byte, error) {
	if n < 0 || uint64(n) > s.cfg.MaxReadBytes {
		return nil, fmt.Errorf("%w: read of %d bytes exceeds limit %d", protocol.ErrAllocationFailure, n, s.cfg.MaxReadBytes)
	}
	conn, err := s.connected()
	if err != nil {
		return nil, err
	}
	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(conn, buf)
	if err != nil {
		return nil, s.fail(classifyRead(err, got, n), got > 0)
	}
	return buf, nil
}

// Read reads whatever is available into p, with ReadExact's error
// classification. It serves Prefetch.
func (s *Session) Read(p []byte) (int, error) {
	conn, err := s.connected()
	if err != nil {
		return 0, err
	}
	n, err := conn.Read(p)
	if err != nil {
		return n, s.fail(classifyRead(err, n, len(p)), false)
	}
	return n, nil
}

// WriteAll writes b in full.
func (s *Session) WriteAll(b []byte) error {
	conn, err := s.connected()
	if err != nil {
		return err
	}
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	written := 0
	for written < len(b) {
		n, err := conn.Write(b[written:])
		written += n
		if err != nil {
			return s.fail(classifyWrite(err), written > 0)
		}
	}
	return nil
}

// fail closes the connection after a transport error and rewrites the error
// to ErrConnectionClosed when the close was local. A timeout leaves the
// session usable only when no bytes of the call went through; otherwise the
// stream is out of step and is closed.
func (s *Session) fail(err error, partial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err)
	}
	if !isTimeout(err) || partial {
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.state = StateClosed
		log.Debug().Str("session", s.id).Err(err).Msg("session closed on error")
	}
	return err
}

// Close releases the listener and connection. Blocked Accept, ReadExact and
// WriteAll calls return ErrConnectionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state = StateClosed
	var errs []error
	if s.ln != nil {
		errs = append(errs, s.ln.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	err := errors.Join(errs...)
	if err != nil && (errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) {
		err = nil
	}
	return err
}

// ReadExact reads exactly n bytes from r, looping over partial reads.
// End of stream, clean or mid-read, is ErrPeerClosed.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err != nil {
		return nil, classifyRead(err, got, n)
	}
	return buf, nil
}

func classifyRead(err error, got, want int) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: read %d of %d bytes", protocol.ErrPeerClosed, got, want)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err)
	case isPeerReset(err):
		return fmt.Errorf("%w: %w", protocol.ErrPeerClosed, err)
	default:
		return fmt.Errorf("%w: read %d of %d bytes: %w", protocol.ErrIO, got, want, err)
	}
}

func classifyWrite(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err)
	case errors.Is(err, io.ErrClosedPipe), isPeerReset(err):
		return fmt.Errorf("%w: %w", protocol.ErrPeerClosed, err)
	default:
		return fmt.Errorf("%w: %w", protocol.ErrIO, err)
	}
}

func isPeerReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
