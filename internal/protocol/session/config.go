package session

import "time"

// BackoffConfig defines connect retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session defaults.
type Config struct {
	// Host is the loopback address sessions bind to.
	Host string
	// AcceptTimeout bounds Accept when the caller passes 0.
	AcceptTimeout  time.Duration
	ConnectTimeout time.Duration
	// ReadTimeout and WriteTimeout apply per call; 0 means block until the
	// peer acts or the session is closed.
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	// MaxReadBytes caps a single ReadExact allocation.
	MaxReadBytes uint64
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Host:               "127.0.0.1",
		AcceptTimeout:      30 * time.Second,
		ConnectTimeout:     5 * time.Second,
		MaxConnectAttempts: 10,
		MaxReadBytes:       256 * 1024 * 1024,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = d.AcceptTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = d.MaxConnectAttempts
	}
	if c.MaxReadBytes == 0 {
		c.MaxReadBytes = d.MaxReadBytes
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	return c
}

// Untimed drops the per-call read and write deadlines. The barrier channel
// waits for as long as the peer takes to reach its turn.
func (c Config) Untimed() Config {
	c.ReadTimeout = 0
	c.WriteTimeout = 0
	return c
}
