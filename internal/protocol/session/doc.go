// Package session owns the single-peer byte-stream transport between the
// Simulator and the Driver.
//
// Ownership boundary:
// - ephemeral-port bind and bounded single accept
// - exact-length reads and whole writes over one connection
// - session state machine (Unbound, Bound, Listening, Connected, Closed)
// - connect retry/backoff for the dialing side
//
// A Session never retries reads or writes. Reconnect after ErrPeerClosed is
// a caller decision.
package session
