package session

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Dial connects to addr, retrying with backoff up to MaxConnectAttempts.
// The listener side may still be starting, so refused connections are
// expected for the first few attempts.
func Dial(ctx context.Context, addr string, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	d := net.Dialer{Timeout: cfg.ConnectTimeout}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxConnectAttempts; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			s := FromConn(conn, cfg)
			log.Debug().Str("session", s.id).Str("addr", addr).Int("attempt", attempt).Msg("session dialed")
			return s, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Debug().Str("addr", addr).Int("attempt", attempt).Err(err).Msg("dial failed")
		if attempt == cfg.MaxConnectAttempts {
			break
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			lastErr = err
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", protocol.ErrConnectFailed, addr, lastErr)
}

// DialPort connects to the configured host on port.
func DialPort(ctx context.Context, port int, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	return Dial(ctx, net.JoinHostPort(cfg.Host, fmt.Sprint(port)), cfg)
}
