// Package message encrypts and decrypts envelopes over stored sessions.
//
// It accepts incoming prekey messages as the responder, consumes the named
// one-time prekey, and persists every ratchet advance atomically with the
// message it belongs to. Delivering envelopes is left to the caller.
package message
