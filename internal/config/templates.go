package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/lockstep/internal/protocol"
	gotoml "github.com/pelletier/go-toml/v2"
)

var ErrTemplateExists = errors.New("config: template target exists")

const templateHeader = `# lockstep deployment config. Both endpoints must load the same layout keys.
# Durations use Go syntax (500ms, 30s). Omitted keys keep their defaults.
`

func toFile(c Config) fileConfig {
	return fileConfig{
		Width:              c.Width,
		Height:             c.Height,
		Channels:           c.Channels,
		ProtocolVersion:    int(c.ProtocolVersion),
		Pose:               c.Caps.Has(protocol.CapPose),
		Info:               c.Caps.Has(protocol.CapInfo),
		AuxChannels:        append([]string{}, c.AuxChannels...),
		AuxSamples:         c.AuxSamples,
		Host:               c.Host,
		AcceptTimeout:      c.AcceptTimeout.String(),
		ReadTimeout:        c.ReadTimeout.String(),
		WriteTimeout:       c.WriteTimeout.String(),
		ConnectTimeout:     c.ConnectTimeout.String(),
		MaxConnectAttempts: c.MaxConnectAttempts,
		ActionSize:         c.ActionSize,
		InitFrames:         c.InitFrames,
		MaxTimesteps:       c.MaxTimesteps,
		Frameskip:          c.Frameskip,
		MetricsAddr:        c.MetricsAddr,
		Script:             c.Script,
		ScriptMaxSteps:     c.ScriptMaxSteps,
	}
}

// Template renders c as a config file that Load reads back to c.
func Template(c Config) (string, error) {
	body, err := gotoml.Marshal(toFile(c))
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, c Config, overwrite bool) error {
	content, err := Template(c)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrTemplateExists, path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
