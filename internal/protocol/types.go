package protocol

import "fmt"

// Version identifies one fixed frame layout revision.
type Version uint8

const (
	// Version1 carries pixels, reward and the termination flag.
	Version1 Version = 1
	// Version2 adds the telemetry blob length.
	Version2 Version = 2
	// Version3 adds the pose block and auxiliary sample buffers.
	Version3 Version = 3

	LatestVersion = Version3
)

// Capability is one optional frame section.
type Capability uint32

const (
	CapInfo Capability = 1 << iota
	CapPose
	CapAux
)

// Capabilities returns the sections fixed by version v.
func (v Version) Capabilities() (Capability, error) {
	switch v {
	case Version1:
		return 0, nil
	case Version2:
		return CapInfo, nil
	case Version3:
		return CapInfo | CapPose | CapAux, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
}

// Has reports whether all bits of want are set.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	out := ""
	add := func(name string) {
		if out != "" {
			out += "|"
		}
		out += name
	}
	if c.Has(CapInfo) {
		add("info")
	}
	if c.Has(CapPose) {
		add("pose")
	}
	if c.Has(CapAux) {
		add("aux")
	}
	return out
}
