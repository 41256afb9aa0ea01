// Package crypto exposes the minimal primitives used by axolotl.
//
// Contents
//
//   - X25519 key generation and Diffie–Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519, SignPreKey)
//   - Best-effort memory wiping for sensitive byte slices (Wipe, WipeKey)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Generators take an io.Reader so tests can inject deterministic entropy;
// production callers pass nil for crypto/rand. All functions return the
// fixed-size array types from internal/domain/types.
package crypto
