package protocol

import (
	"errors"
	"testing"
)

func TestVersionCapabilities(t *testing.T) {
	cases := []struct {
		v    Version
		want Capability
	}{
		{Version1, 0},
		{Version2, CapInfo},
		{Version3, CapInfo | CapPose | CapAux},
	}
	for _, tc := range cases {
		got, err := tc.v.Capabilities()
		if err != nil {
			t.Fatalf("version %d: %v", tc.v, err)
		}
		if got != tc.want {
			t.Fatalf("version %d: got=%s want=%s", tc.v, got, tc.want)
		}
	}
}

func TestUnknownVersionRejected(t *testing.T) {
	if _, err := Version(9).Capabilities(); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestCapabilityString(t *testing.T) {
	if got := (CapInfo | CapAux).String(); got != "info|aux" {
		t.Fatalf("unexpected string: %q", got)
	}
	if got := Capability(0).String(); got != "none" {
		t.Fatalf("unexpected string: %q", got)
	}
}
