package ratchet

import (
	"crypto/rand"
	"fmt"
	"io"

	"axolotl/internal/crypto"
	"axolotl/internal/domain/types"
	"axolotl/internal/protocol/x3dh"
)

const (
	// DefaultMaxSkippedKeys bounds the skipped-key cache of one state.
	DefaultMaxSkippedKeys = 256
	// DefaultMaxChainGap bounds how far ahead of its receiving chain a
	// single message may jump.
	DefaultMaxChainGap uint32 = 256
	// MaxSkippedKeysLimit caps any configured MaxSkippedKeys. Stored
	// records holding more skipped keys than this are corrupt.
	MaxSkippedKeysLimit = 2048
)

// Policy holds the resource bounds applied to untrusted message indices.
type Policy struct {
	MaxSkippedKeys int
	MaxChainGap    uint32
}

// DefaultPolicy returns the package defaults.
func DefaultPolicy() Policy {
	return Policy{MaxSkippedKeys: DefaultMaxSkippedKeys, MaxChainGap: DefaultMaxChainGap}
}

// LocalPreKeys are the responder's stored prekeys named by an incoming
// PreKeyMessage. OneTime is nil when the message names none or the key has
// already been consumed.
type LocalPreKeys struct {
	Signed  types.SignedPreKeyRecord
	OneTime *types.PreKeyRecord
}

// Engine runs the Double Ratchet. It holds configuration only; every
// operation takes a state and returns a new one.
type Engine struct {
	policy Policy
	rand   io.Reader
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides the default resource bounds.
func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

// WithRandom sets the entropy source for ephemeral and ratchet keys.
func WithRandom(r io.Reader) Option { return func(e *Engine) { e.rand = r } }

// NewEngine returns an engine with the default policy and crypto/rand.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{policy: DefaultPolicy(), rand: rand.Reader}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's bounds.
func (e *Engine) Policy() Policy { return e.policy }

// Originate starts a session from a verified bundle. A fresh base key and a
// fresh ratchet key are drawn on every call.
func (e *Engine) Originate(local types.Identity, verified types.VerifiedPreKeyBundle) (SessionState, error) {
	if !verified.Verified() {
		return SessionState{}, fmt.Errorf("%w: bundle signature not verified", types.ErrUntrustedIdentity)
	}
	b := verified.Bundle()

	base, err := crypto.GenerateX25519(e.rand)
	if err != nil {
		return SessionState{}, err
	}
	defer crypto.Wipe(base.Private[:])

	root, err := x3dh.InitiatorRoot(local, base.Private, b)
	if err != nil {
		return SessionState{}, err
	}
	defer crypto.WipeKey(&root)

	ratchetKey, err := crypto.GenerateX25519(e.rand)
	if err != nil {
		return SessionState{}, err
	}
	shared, err := crypto.DH(ratchetKey.Private, b.SignedPreKey)
	if err != nil {
		return SessionState{}, fmt.Errorf("initial ratchet: %w", err)
	}
	rk, sending := RootKey(root).CreateChain(shared)
	crypto.WipeKey(&shared)

	pending := &PendingPreKey{SignedPreKeyID: b.SignedPreKeyID, BaseKey: base.Public}
	if b.PreKey != nil {
		id := b.PreKey.ID
		pending.PreKeyID = &id
	}

	return SessionState{
		Version:              uint32(types.MessageVersion),
		LocalIdentity:        local.PublicKey(),
		RemoteIdentity:       b.IdentityKey,
		LocalRegistrationID:  local.RegistrationID,
		RemoteRegistrationID: b.RegistrationID,
		RootKey:              rk,
		LocalRatchet:         ratchetKey,
		RemoteRatchet:        b.SignedPreKey,
		Sending:              &sending,
		BaseKey:              base.Public,
		Pending:              pending,
	}, nil
}

// Accept is the responder side of Originate. senderRatchet is the ratchet
// key from the header of the message that carried msg. The sending chain
// is created lazily by the first DeriveSendingMessageKey.
func (e *Engine) Accept(
	local types.Identity,
	prekeys LocalPreKeys,
	msg types.PreKeyMessage,
	senderRatchet types.X25519Public,
) (SessionState, error) {
	if msg.Version != types.MessageVersion {
		return SessionState{}, fmt.Errorf("%w: prekey message v%d", types.ErrUnsupportedSessionVersion, msg.Version)
	}
	if !msg.RegistrationID.Valid() {
		return SessionState{}, fmt.Errorf("%w: registration id %d", types.ErrInvalidMessage, msg.RegistrationID)
	}
	if msg.SignedPreKeyID != prekeys.Signed.ID {
		return SessionState{}, fmt.Errorf("%w: signed prekey %d", types.ErrInvalidPreKey, msg.SignedPreKeyID)
	}

	var oneTime *types.X25519Private
	if msg.PreKeyID != nil {
		if prekeys.OneTime == nil || prekeys.OneTime.ID != *msg.PreKeyID {
			return SessionState{}, fmt.Errorf("%w: one-time prekey %d", types.ErrReplayedPreKey, *msg.PreKeyID)
		}
		oneTime = &prekeys.OneTime.KeyPair.Private
	}

	root, err := x3dh.ResponderRoot(local, prekeys.Signed.KeyPair.Private, oneTime, msg)
	if err != nil {
		return SessionState{}, err
	}
	defer crypto.WipeKey(&root)

	shared, err := crypto.DH(prekeys.Signed.KeyPair.Private, senderRatchet)
	if err != nil {
		return SessionState{}, fmt.Errorf("initial ratchet: %w", err)
	}
	rk, receiving := RootKey(root).CreateChain(shared)
	crypto.WipeKey(&shared)

	return SessionState{
		Version:              uint32(types.MessageVersion),
		LocalIdentity:        local.PublicKey(),
		RemoteIdentity:       msg.IdentityKey,
		LocalRegistrationID:  local.RegistrationID,
		RemoteRegistrationID: msg.RegistrationID,
		RootKey:              rk,
		LocalRatchet:         prekeys.Signed.KeyPair,
		RemoteRatchet:        senderRatchet,
		Receiving:            &receiving,
		BaseKey:              msg.BaseKey,
	}, nil
}

// RatchetStep advances state to a new remote ratchet key.
//
// previous is state with its receiving chain advanced to previousCounter
// (the sender's final index on the old chain) and the passed-over keys
// cached, reduced to its archived form. next carries the new root key, a
// receiving chain for remote and a sending chain under a fresh local
// ratchet key.
func (e *Engine) RatchetStep(
	state SessionState,
	remote types.X25519Public,
	previousCounter uint32,
) (previous SessionState, next SessionState, err error) {
	if !state.HasRootKey() {
		return SessionState{}, SessionState{}, fmt.Errorf("%w: ratchet step on empty state", types.ErrNoSession)
	}

	previous = state.Clone()
	if previous.Receiving != nil {
		if err := e.skipTo(&previous, previousCounter); err != nil {
			return SessionState{}, SessionState{}, err
		}
	}
	previous = previous.Archived()

	shared, err := crypto.DH(state.LocalRatchet.Private, remote)
	if err != nil {
		return SessionState{}, SessionState{}, fmt.Errorf("ratchet step: %w", err)
	}
	rk, receiving := state.RootKey.CreateChain(shared)
	crypto.WipeKey(&shared)

	local, err := crypto.GenerateX25519(e.rand)
	if err != nil {
		return SessionState{}, SessionState{}, err
	}
	shared, err = crypto.DH(local.Private, remote)
	if err != nil {
		return SessionState{}, SessionState{}, fmt.Errorf("ratchet step: %w", err)
	}
	rk, sending := rk.CreateChain(shared)
	crypto.WipeKey(&shared)

	next = state.Clone()
	next.PreviousCounter = 0
	if state.Sending != nil {
		next.PreviousCounter = state.Sending.Index
	}
	next.RootKey = rk
	next.LocalRatchet = local
	next.RemoteRatchet = remote
	next.Receiving = &receiving
	next.Sending = &sending
	next.Skipped = SkippedKeys{}
	return previous, next, nil
}

// DeriveSendingMessageKey returns the message keys for the next outgoing
// message and the advanced state. The key's Index is the counter to put in
// the header.
func (e *Engine) DeriveSendingMessageKey(state SessionState) (MessageKeys, SessionState, error) {
	if !state.HasRootKey() {
		return MessageKeys{}, SessionState{}, fmt.Errorf("%w: no sending state", types.ErrNoSession)
	}
	st := state.Clone()

	if st.Sending == nil {
		local, err := crypto.GenerateX25519(e.rand)
		if err != nil {
			return MessageKeys{}, SessionState{}, err
		}
		shared, err := crypto.DH(local.Private, st.RemoteRatchet)
		if err != nil {
			return MessageKeys{}, SessionState{}, fmt.Errorf("sending chain: %w", err)
		}
		rk, sending := st.RootKey.CreateChain(shared)
		crypto.WipeKey(&shared)

		st.RootKey = rk
		st.LocalRatchet = local
		st.Sending = &sending
		st.PreviousCounter = 0
	}

	mk := st.Sending.MessageKeys()
	next := st.Sending.Next()
	st.Sending = &next
	return mk, st, nil
}

// DeriveReceivingMessageKey returns the message keys for index on the
// state's receiving chain.
//
// An index below the chain position is served from the skipped-key cache
// or fails with ErrDuplicateMessage. An index more than MaxChainGap ahead
// fails with ErrExcessiveGap before anything is derived.
func (e *Engine) DeriveReceivingMessageKey(state SessionState, index uint32) (MessageKeys, SessionState, error) {
	if state.Receiving == nil {
		return MessageKeys{}, SessionState{}, fmt.Errorf("%w: no receiving chain", types.ErrNoSession)
	}
	st := state.Clone()

	if index < st.Receiving.Index {
		mk, ok := st.Skipped.take(index)
		if !ok {
			return MessageKeys{}, SessionState{}, fmt.Errorf("%w: index %d", types.ErrDuplicateMessage, index)
		}
		return mk, st, nil
	}

	if err := e.skipTo(&st, index); err != nil {
		return MessageKeys{}, SessionState{}, err
	}
	mk := st.Receiving.MessageKeys()
	next := st.Receiving.Next()
	st.Receiving = &next
	return mk, st, nil
}

// skipTo advances the receiving chain of st to until, caching every key it
// passes over.
func (e *Engine) skipTo(st *SessionState, until uint32) error {
	ck := *st.Receiving
	if until <= ck.Index {
		return nil
	}
	if gap := until - ck.Index; gap > e.policy.MaxChainGap {
		return fmt.Errorf("%w: %d ahead of chain index %d (max %d)",
			types.ErrExcessiveGap, gap, ck.Index, e.policy.MaxChainGap)
	}
	for ck.Index < until {
		st.Skipped.put(ck.MessageKeys(), e.policy.MaxSkippedKeys)
		ck = ck.Next()
	}
	st.Receiving = &ck
	return nil
}
