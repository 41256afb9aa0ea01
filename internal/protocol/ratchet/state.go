package ratchet

import (
	"axolotl/internal/domain/types"
)

// PendingPreKey is the handshake metadata an initiator keeps attaching to
// outgoing messages until the responder has replied.
type PendingPreKey struct {
	PreKeyID       *types.PreKeyID
	SignedPreKeyID types.SignedPreKeyID
	BaseKey        types.X25519Public
}

// SessionState is the live ratchet state of one session. Values are copied
// in and out of the engine; a state held by a caller is never modified by
// an engine call.
type SessionState struct {
	Version uint32

	LocalIdentity        types.IdentityKey
	RemoteIdentity       types.IdentityKey
	LocalRegistrationID  types.RegistrationID
	RemoteRegistrationID types.RegistrationID

	RootKey       RootKey
	LocalRatchet  types.KeyPair
	RemoteRatchet types.X25519Public

	// Sending is nil on the responder until its first outgoing message.
	Sending         *ChainKey
	PreviousCounter uint32

	// Receiving is nil on the initiator until the first reply.
	Receiving *ChainKey
	Skipped   SkippedKeys

	// BaseKey is the initiator's X3DH base key; both sides keep it to
	// recognise repeated PreKeyMessages for this session.
	BaseKey types.X25519Public
	Pending *PendingPreKey
}

// Clone returns a deep copy of s.
func (s SessionState) Clone() SessionState {
	out := s
	if s.Sending != nil {
		ck := *s.Sending
		out.Sending = &ck
	}
	if s.Receiving != nil {
		ck := *s.Receiving
		out.Receiving = &ck
	}
	out.Skipped = s.Skipped.clone()
	if s.Pending != nil {
		p := *s.Pending
		if s.Pending.PreKeyID != nil {
			id := *s.Pending.PreKeyID
			p.PreKeyID = &id
		}
		out.Pending = &p
	}
	return out
}

// HasRootKey reports whether the state was produced by Originate or Accept.
func (s SessionState) HasRootKey() bool { return !s.RootKey.IsZero() }

// CanReceive reports whether a message at index on this state's receiving
// chain is still decryptable: either cached or not yet reached.
func (s SessionState) CanReceive(index uint32) bool {
	if s.Receiving == nil {
		return false
	}
	return index >= s.Receiving.Index || s.Skipped.Has(index)
}

// ClearPending drops the handshake metadata once the peer has answered.
func (s *SessionState) ClearPending() { s.Pending = nil }

// Archived returns the receive-only form of s kept in a record's history.
// Root, sending and local ratchet secrets are removed so nothing already
// delivered or sent can be derived again from an archived state.
func (s SessionState) Archived() SessionState {
	out := s.Clone()
	out.RootKey = RootKey{}
	out.LocalRatchet.Private = types.X25519Private{}
	out.Sending = nil
	out.Pending = nil
	return out
}

// Wipe zeroes the secret material held by s.
func (s *SessionState) Wipe() {
	s.RootKey = RootKey{}
	s.LocalRatchet.Private = types.X25519Private{}
	if s.Sending != nil {
		s.Sending.Key = [types.KeySize]byte{}
	}
	if s.Receiving != nil {
		s.Receiving.Key = [types.KeySize]byte{}
	}
	s.Skipped.wipe()
}
