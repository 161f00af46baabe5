// Package rendezvous owns the per-tick turn barrier between the Simulator and
// the Driver.
//
// Ownership boundary:
// - strict release/wait alternation, one combined Step per tick
// - turn tokens over a dedicated loopback stream
// - tick accounting
//
// No timeout is applied to a wait. Closing the underlying stream unblocks
// a waiting party.
package rendezvous
