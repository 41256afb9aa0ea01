// Package x3dh implements the X3DH key-agreement used to bootstrap a Double Ratchet
// session between two parties.
//
// # Overview
//
// X3DH lets an initiator derive a shared 32-byte root key with a responder who has
// published a prekey bundle. The bundle contains:
//   - Identity key (X25519 agreement half plus Ed25519 signing half)
//   - Signed prekey (X25519) and its Ed25519 signature
//   - An optional one-time prekey (X25519)
//
// # Flows
//
// Initiator:
//  1. Receive a bundle whose signature the caller already verified.
//  2. Generate an ephemeral base key pair.
//  3. Compute DH values (IKa·SPKb, EKa·IKb, EKa·SPKb[, EKa·OPKb]).
//  4. HKDF over 0xFF*32 || transcript to produce the root key.
//
// Responder:
//  1. Receive the PreKeyMessage (initiator IK, base key EK, SPK id[, OPK id]).
//  2. Look up the SPK and optionally the OPK (the caller consumes it).
//  3. Compute the symmetric DH set (SPKb·IKa, IKb·EKa, SPKb·EKa[, OPKb·EKa]).
//  4. HKDF the same transcript to the identical root key.
//
// # Security notes
//
// Only public material is sent over the wire. One-time prekeys, when present,
// improve forward secrecy by ensuring the handshake mixes in a value that is
// deleted after first use. Intermediate DH outputs are wiped before return.
package x3dh
