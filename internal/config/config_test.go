package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lockstep.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
width = 4
height = 2
protocol_version = 3
aux_channels = ["depth", " ", "seg"]
aux_samples = 8
accept_timeout = "2s"
frameskip = 3
script = " reward.star "
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	require.Equal(t, 4, cfg.Width)
	require.Equal(t, 2, cfg.Height)
	require.Equal(t, def.Channels, cfg.Channels)
	require.Equal(t, protocol.Version3, cfg.ProtocolVersion)
	require.True(t, cfg.Caps.Has(protocol.CapInfo|protocol.CapPose|protocol.CapAux))
	require.Equal(t, []string{"depth", "seg"}, cfg.AuxChannels)
	require.Equal(t, 2*time.Second, cfg.AcceptTimeout)
	require.Equal(t, def.ConnectTimeout, cfg.ConnectTimeout)
	require.Equal(t, 3, cfg.Frameskip)
	require.Equal(t, "reward.star", cfg.Script)

	l, err := cfg.Layout()
	require.NoError(t, err)
	require.Equal(t, 4*2*3, l.PrimarySize())
	require.Equal(t, 2*8*4, l.AuxSize())
	require.Equal(t, 49, l.TrailerSize())

	sim, err := cfg.Simulator()
	require.NoError(t, err)
	require.Equal(t, 3, sim.Frameskip)
	require.Equal(t, l.Size(), sim.Layout.Size())
}

func TestCapabilityKeysAdjustVersion(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeFile(t, "protocol_version = 1\npose = true\n"))
	require.NoError(t, err)
	require.Equal(t, protocol.CapPose, cfg.Caps)

	cfg, err = Load(writeFile(t, "info = false\n"))
	require.NoError(t, err)
	require.Equal(t, protocol.Capability(0), cfg.Caps)
	l, err := cfg.Layout()
	require.NoError(t, err)
	require.Equal(t, 9, l.TrailerSize())
}

func TestLoadRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		body string
		is   error
	}{
		{name: "unknown version", body: "protocol_version = 9\n", is: protocol.ErrUnsupportedVersion},
		{name: "zero width", body: "width = 0\n", is: protocol.ErrInvalidLength},
		{name: "duplicate aux", body: "protocol_version = 3\naux_channels = [\"a\", \"a\"]\naux_samples = 1\n", is: protocol.ErrInvalidLength},
		{name: "bad action size", body: "action_size = 0\n", is: protocol.ErrInvalidLength},
		{name: "bad duration", body: "read_timeout = \"soon\"\n"},
		{name: "unknown key", body: "frame_rate = 60\n"},
		{name: "negative frameskip", body: "frameskip = -1\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.body))
			require.Error(t, err)
			if tc.is != nil {
				require.ErrorIs(t, err, tc.is)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestTemplateLoadsBackToSameConfig(t *testing.T) {
	testlog.Start(t)
	want := Default()
	want.Width = 16
	want.MaxTimesteps = 500
	want.ReadTimeout = 1500 * time.Millisecond
	want.MetricsAddr = "127.0.0.1:9100"

	path := filepath.Join(t.TempDir(), "nested", "lockstep.toml")
	require.NoError(t, WriteTemplate(path, want, false))
	require.ErrorIs(t, WriteTemplate(path, want, false), ErrTemplateExists)
	require.NoError(t, WriteTemplate(path, want, true))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want.Width, got.Width)
	require.Equal(t, want.Caps, got.Caps)
	require.Equal(t, want.ReadTimeout, got.ReadTimeout)
	require.Equal(t, want.MaxTimesteps, got.MaxTimesteps)
	require.Equal(t, want.MetricsAddr, got.MetricsAddr)
	require.Equal(t, want.AcceptTimeout, got.AcceptTimeout)

	d, err := got.Driver()
	require.NoError(t, err)
	require.Equal(t, 500, d.MaxTimesteps)
	require.GreaterOrEqual(t, d.Session.MaxReadBytes, d.Limits.MaxFrameBytes)
}

func TestTemplateKeepsAuxCapabilityWithoutChannels(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "protocol_version = 3\n")
	want, err := Load(path)
	require.NoError(t, err)
	require.True(t, want.Caps.Has(protocol.CapAux))
	require.Empty(t, want.AuxChannels)

	out := filepath.Join(t.TempDir(), "roundtrip.toml")
	require.NoError(t, WriteTemplate(out, want, false))
	got, err := Load(out)
	require.NoError(t, err)
	require.Equal(t, want.Caps, got.Caps)
	require.Equal(t, want.ProtocolVersion, got.ProtocolVersion)

	wantLayout, err := want.Layout()
	require.NoError(t, err)
	gotLayout, err := got.Layout()
	require.NoError(t, err)
	require.Equal(t, wantLayout.Size(), gotLayout.Size())
}
