// Package state owns the Simulator's per-process environment state.
//
// Ownership boundary:
// - reward with the once-and-reset variant
// - sticky termination and soft-reset flags
// - the telemetry info bag (scalars, lists of scalars, maps of scalars)
// - named auxiliary sample buffers, replaced whole
// - the per-tick snapshot consumed by the frame encoder
//
// Env carries no lock. It is owned by the tick goroutine, which both mutates
// it and snapshots it before the turn is handed to the Driver.
package state
