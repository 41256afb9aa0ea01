// Package session establishes and tracks sessions with remote devices.
//
// It runs the initiator side of X3DH from a verified prekey bundle, enforces
// trust on first use for remote identities, and lists, describes and deletes
// stored session records.
package session
