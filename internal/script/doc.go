// Package script runs Starlark tick scripts against the Simulator's
// environment state.
//
// Ownership boundary:
// - one-time compile of a script file with the state primitives predeclared
// - one tick() call per simulator tick on the tick goroutine
// - conversion between Starlark scalars and telemetry values
package script
