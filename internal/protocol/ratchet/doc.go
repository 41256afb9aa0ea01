// Package ratchet implements the Double Ratchet algorithm following Signal's design.
//
// The algorithm maintains a root key and two message chains (send and receive).
// Each message advances a KDF chain so that keys are forward secure. When a party
// changes its DH ratchet public key, both sides derive new chain keys from a new
// root derived via DH.
//
// # Engine
//
// Engine is configuration only. Originate, Accept, RatchetStep and the two
// Derive*MessageKey operations take a SessionState by value and return a new
// one; they never modify their input and perform no I/O. A failed call
// returns the zero state and leaves the caller's copy untouched.
//
// # Bounds
//
// Message indices come from the network and are untrusted. A message more
// than Policy.MaxChainGap ahead of its chain is rejected with
// ErrExcessiveGap before any key is derived. Keys passed over by smaller
// jumps are cached up to Policy.MaxSkippedKeys per state; beyond that the
// oldest cached key is dropped, and its message becomes undecryptable.
//
// Concurrency: SessionState is NOT safe for concurrent use. Callers must
// serialise access per remote device.
package ratchet
