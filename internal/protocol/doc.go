// Package protocol owns the lockstep wire contract shared by the Simulator and the Driver.
//
// Ownership boundary:
// - error taxonomy for transport, framing and telemetry encoding
// - protocol versions and the capability flags they fix
//
// Subpackages:
// - value: self-describing telemetry tree encoding
// - frame: per-step observation layout (primary payload + fixed trailer)
// - session: single-peer stream transport (bind, accept, exact reads)
// - action: default Driver->Simulator action byte-string
package protocol
