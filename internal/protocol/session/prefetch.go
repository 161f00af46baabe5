package session

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
)

const prefetchChunk = 64 * 1024

// Prefetcher drains a session's inbound bytes on a background goroutine so a
// peer's large write can complete before the reader is ready to consume it.
// ReadExact then serves from memory in arrival order.
//
// The buffer is bounded by MaxReadBytes; protocols layered on top keep at
// most one step of data in flight.
type Prefetcher struct {
	s *Session

	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
	err  error
}

// Prefetch starts draining s. The returned Prefetcher owns s.
func Prefetch(s *Session) *Prefetcher {
	p := &Prefetcher{s: s}
	p.cond = sync.NewCond(&p.mu)
	go p.pump()
	return p
}

func (p *Prefetcher) pump() {
	chunk := make([]byte, prefetchChunk)
	for {
		n, err := p.s.Read(chunk)
		p.mu.Lock()
		p.buf = append(p.buf, chunk[:n]...)
		if err == nil && uint64(len(p.buf)) > p.s.cfg.MaxReadBytes {
			err = fmt.Errorf("%w: %d unread bytes buffered", protocol.ErrAllocationFailure, len(p.buf))
			_ = p.s.Close()
		}
		if err != nil {
			p.err = err
		}
		p.cond.Broadcast()
		p.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// ReadExact blocks until n bytes have arrived, the stream fails, or the
// session's ReadTimeout passes. Bytes already buffered when the peer closes
// are still delivered. A timeout consumes nothing, so the read may be retried.
func (p *Prefetcher) ReadExact(n int) ([]byte, error) {
	if n < 0 || uint64(n) > p.s.cfg.MaxReadBytes {
		return nil, fmt.Errorf("%w: read of %d bytes exceeds limit %d", protocol.ErrAllocationFailure, n, p.s.cfg.MaxReadBytes)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired bool
	if timeout := p.s.cfg.ReadTimeout; timeout > 0 && len(p.buf) < n {
		t := time.AfterFunc(timeout, func() {
			p.mu.Lock()
			expired = true
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		defer t.Stop()
	}
	for len(p.buf) < n && p.err == nil && !expired {
		p.cond.Wait()
	}
	if len(p.buf) < n {
		if p.err != nil {
			return nil, fmt.Errorf("have %d of %d bytes: %w", len(p.buf), n, p.err)
		}
		return nil, fmt.Errorf("%w: have %d of %d bytes after %s: %w", protocol.ErrIO, len(p.buf), n, p.s.cfg.ReadTimeout, os.ErrDeadlineExceeded)
	}
	out := make([]byte, n)
	copy(out, p.buf)
	p.buf = p.buf[n:]
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out, nil
}

func (p *Prefetcher) WriteAll(b []byte) error { return p.s.WriteAll(b) }

// Close closes the session, which stops the pump.
func (p *Prefetcher) Close() error { return p.s.Close() }

func (p *Prefetcher) Session() *Session { return p.s }
