package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/lockstep/internal/driver"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/action"
	"github.com/danmuck/lockstep/internal/protocol/frame"
	"github.com/danmuck/lockstep/internal/protocol/session"
	"github.com/danmuck/lockstep/internal/script"
	"github.com/danmuck/lockstep/internal/simulator"
)

// Config is one deployment's lockstep settings, shared by both endpoints.
type Config struct {
	Width           int
	Height          int
	Channels        int
	ProtocolVersion protocol.Version
	// Caps starts from ProtocolVersion and may be adjusted per section.
	Caps        protocol.Capability
	AuxChannels []string
	AuxSamples  int

	Host               string
	AcceptTimeout      time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ConnectTimeout     time.Duration
	MaxConnectAttempts int

	ActionSize   int
	InitFrames   int
	MaxTimesteps int
	Frameskip    int

	MetricsAddr    string
	Script         string
	ScriptMaxSteps uint64
}

func Default() Config {
	s := session.DefaultConfig()
	caps, _ := protocol.Version2.Capabilities()
	return Config{
		Width:              64,
		Height:             64,
		Channels:           3,
		ProtocolVersion:    protocol.Version2,
		Caps:               caps,
		Host:               s.Host,
		AcceptTimeout:      s.AcceptTimeout,
		ConnectTimeout:     s.ConnectTimeout,
		MaxConnectAttempts: s.MaxConnectAttempts,
		ActionSize:         action.Size,
	}
}

// fileConfig is the on-disk shape. Durations are Go duration strings.
type fileConfig struct {
	Width              int      `toml:"width"`
	Height             int      `toml:"height"`
	Channels           int      `toml:"channels"`
	ProtocolVersion    int      `toml:"protocol_version"`
	Pose               bool     `toml:"pose"`
	Info               bool     `toml:"info"`
	AuxChannels        []string `toml:"aux_channels"`
	AuxSamples         int      `toml:"aux_samples"`
	Host               string   `toml:"host"`
	AcceptTimeout      string   `toml:"accept_timeout"`
	ReadTimeout        string   `toml:"read_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	ActionSize         int      `toml:"action_size"`
	InitFrames         int      `toml:"init_frames"`
	MaxTimesteps       int      `toml:"max_timesteps"`
	Frameskip          int      `toml:"frameskip"`
	MetricsAddr        string   `toml:"metrics_addr"`
	Script             string   `toml:"script"`
	ScriptMaxSteps     uint64   `toml:"script_max_steps"`
}

// Load reads path over Default. Only keys present in the file override.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load lockstep config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load lockstep config: unknown key %q", undecoded[0].String())
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("width") {
		cfg.Width = raw.Width
	}
	if meta.IsDefined("height") {
		cfg.Height = raw.Height
	}
	if meta.IsDefined("channels") {
		cfg.Channels = raw.Channels
	}
	if meta.IsDefined("protocol_version") {
		if raw.ProtocolVersion < 0 || raw.ProtocolVersion > 255 {
			return Config{}, fmt.Errorf("%w: %d", protocol.ErrUnsupportedVersion, raw.ProtocolVersion)
		}
		v := protocol.Version(raw.ProtocolVersion)
		caps, err := v.Capabilities()
		if err != nil {
			return Config{}, fmt.Errorf("parse protocol_version: %w", err)
		}
		cfg.ProtocolVersion = v
		cfg.Caps = caps
	}
	if meta.IsDefined("pose") {
		cfg.Caps = setCap(cfg.Caps, protocol.CapPose, raw.Pose)
	}
	if meta.IsDefined("info") {
		cfg.Caps = setCap(cfg.Caps, protocol.CapInfo, raw.Info)
	}
	if meta.IsDefined("aux_channels") {
		// An empty list keeps the version's aux bit; with no channels the
		// section is zero bytes either way.
		cfg.AuxChannels = normalizeChannels(raw.AuxChannels)
		if len(cfg.AuxChannels) > 0 {
			cfg.Caps |= protocol.CapAux
		}
	}
	if meta.IsDefined("aux_samples") {
		cfg.AuxSamples = raw.AuxSamples
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"accept_timeout", raw.AcceptTimeout, &cfg.AcceptTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("action_size") {
		cfg.ActionSize = raw.ActionSize
	}
	if meta.IsDefined("init_frames") {
		cfg.InitFrames = raw.InitFrames
	}
	if meta.IsDefined("max_timesteps") {
		cfg.MaxTimesteps = raw.MaxTimesteps
	}
	if meta.IsDefined("frameskip") {
		cfg.Frameskip = raw.Frameskip
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("script") {
		cfg.Script = strings.TrimSpace(raw.Script)
	}
	if meta.IsDefined("script_max_steps") {
		cfg.ScriptMaxSteps = raw.ScriptMaxSteps
	}
	return cfg, nil
}

func setCap(caps, c protocol.Capability, on bool) protocol.Capability {
	if on {
		return caps | c
	}
	return caps &^ c
}

func normalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ch := range in {
		if v := strings.TrimSpace(ch); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c Config) Validate() error {
	if c.ActionSize <= 0 {
		return fmt.Errorf("%w: action_size %d", protocol.ErrInvalidLength, c.ActionSize)
	}
	if c.InitFrames < 0 || c.MaxTimesteps < 0 || c.Frameskip < 0 {
		return fmt.Errorf("init_frames, max_timesteps and frameskip must not be negative")
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("max_connect_attempts must not be negative")
	}
	_, err := c.Layout()
	return err
}

// Layout builds the frame layout fixed by the capabilities.
func (c Config) Layout() (frame.Layout, error) {
	l := frame.Layout{Width: c.Width, Height: c.Height, Channels: c.Channels, Caps: c.Caps}
	if c.Caps.Has(protocol.CapAux) {
		l.Aux = frame.AuxLayout{Channels: c.AuxChannels, Samples: c.AuxSamples}
	}
	if err := l.Validate(frame.DefaultLimits()); err != nil {
		return frame.Layout{}, err
	}
	return l, nil
}

// Session maps the transport keys onto a session config.
func (c Config) Session() session.Config {
	return session.Config{
		Host:               c.Host,
		AcceptTimeout:      c.AcceptTimeout,
		ConnectTimeout:     c.ConnectTimeout,
		ReadTimeout:        c.ReadTimeout,
		WriteTimeout:       c.WriteTimeout,
		MaxConnectAttempts: c.MaxConnectAttempts,
	}.WithDefaults()
}

func (c Config) Driver() (driver.Config, error) {
	l, err := c.Layout()
	if err != nil {
		return driver.Config{}, err
	}
	return driver.Config{
		Layout:       l,
		Session:      c.Session(),
		ActionSize:   c.ActionSize,
		InitFrames:   c.InitFrames,
		MaxTimesteps: c.MaxTimesteps,
	}.WithDefaults(), nil
}

func (c Config) Simulator() (simulator.Config, error) {
	l, err := c.Layout()
	if err != nil {
		return simulator.Config{}, err
	}
	return simulator.Config{
		Layout:     l,
		Session:    c.Session(),
		ActionSize: c.ActionSize,
		Frameskip:  c.Frameskip,
	}.WithDefaults(), nil
}

func (c Config) ScriptConfig() script.Config {
	return script.Config{MaxSteps: c.ScriptMaxSteps}
}
