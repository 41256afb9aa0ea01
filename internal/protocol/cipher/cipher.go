// Package cipher seals and opens messages against a session record. It
// decides which state of a record a message belongs to and when a DH
// ratchet step is due; the key schedule itself lives in package ratchet.
//
// Every call takes a record and returns a new one. The input record is not
// modified, and nothing is returned on failure, so a caller that only
// persists successful results never stores a half-applied step.
package cipher

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"axolotl/internal/domain/types"
	"axolotl/internal/protocol/ratchet"
	"axolotl/internal/protocol/record"
)

// Cipher encrypts and decrypts over session records.
type Cipher struct {
	engine *ratchet.Engine
}

// New returns a Cipher driven by engine.
func New(engine *ratchet.Engine) *Cipher { return &Cipher{engine: engine} }

// Engine returns the underlying ratchet engine.
func (c *Cipher) Engine() *ratchet.Engine { return c.engine }

// Encrypt seals plaintext under the record's current state. While the
// session is unacknowledged the envelope carries the PreKeyMessage so the
// peer can build the session from any of the messages that reach it.
func (c *Cipher) Encrypt(rec *record.SessionRecord, sender types.Address, plaintext []byte) (types.Envelope, *record.SessionRecord, error) {
	st, err := rec.Current()
	if err != nil {
		return types.Envelope{}, nil, err
	}
	if err := checkVersion(st); err != nil {
		return types.Envelope{}, nil, err
	}
	mk, st, err := c.engine.DeriveSendingMessageKey(st)
	if err != nil {
		return types.Envelope{}, nil, err
	}
	defer mk.Wipe()

	env := types.Envelope{
		Sender: sender,
		Header: types.RatchetHeader{
			Version:         types.MessageVersion,
			RatchetKey:      st.LocalRatchet.Public,
			PreviousCounter: st.PreviousCounter,
			Counter:         mk.Index,
		},
	}
	if p := st.Pending; p != nil {
		env.PreKey = &types.PreKeyMessage{
			Version:        types.MessageVersion,
			RegistrationID: st.LocalRegistrationID,
			PreKeyID:       p.PreKeyID,
			SignedPreKeyID: p.SignedPreKeyID,
			BaseKey:        p.BaseKey,
			IdentityKey:    st.LocalIdentity,
		}
	}

	ct, err := seal(mk, associatedData(st.LocalIdentity, st.RemoteIdentity, env.Header), plaintext)
	if err != nil {
		return types.Envelope{}, nil, err
	}
	env.Ciphertext = ct

	out := rec.Clone()
	if err := out.Update(record.CurrentSlot, st); err != nil {
		return types.Envelope{}, nil, err
	}
	return env, out, nil
}

// AcceptPreKey builds the responder state for env's PreKeyMessage and
// promotes it in a copy of rec. If rec already holds a state created from
// the same base key the message is a retransmission and rec is returned
// unchanged with created false.
func (c *Cipher) AcceptPreKey(
	rec *record.SessionRecord,
	local types.Identity,
	prekeys ratchet.LocalPreKeys,
	env types.Envelope,
) (out *record.SessionRecord, created bool, err error) {
	if env.PreKey == nil {
		return nil, false, fmt.Errorf("%w: envelope has no prekey message", types.ErrInvalidMessage)
	}
	if rec.HasBaseKey(env.PreKey.BaseKey) {
		return rec.Clone(), false, nil
	}
	st, err := c.engine.Accept(local, prekeys, *env.PreKey, env.Header.RatchetKey)
	if err != nil {
		return nil, false, err
	}
	out = rec.Clone()
	out.PromoteNewState(st)
	return out, true, nil
}

// Decrypt opens env against rec.
//
// A state whose receiving chain matches the header's ratchet key is tried
// first, current then archived. An unknown ratchet key triggers a DH ratchet
// step on the current state; the step is kept only if the message
// authenticates under it.
func (c *Cipher) Decrypt(rec *record.SessionRecord, env types.Envelope) ([]byte, *record.SessionRecord, error) {
	h := env.Header
	if h.Version != types.MessageVersion {
		return nil, nil, fmt.Errorf("%w: message v%d", types.ErrUnsupportedSessionVersion, h.Version)
	}

	out := rec.Clone()
	if st, slot, ok := out.FindStateForReceiving(h.Counter, h.RatchetKey); ok {
		if err := checkVersion(st); err != nil {
			return nil, nil, err
		}
		mk, st, err := c.engine.DeriveReceivingMessageKey(st, h.Counter)
		if err != nil {
			return nil, nil, err
		}
		defer mk.Wipe()
		pt, err := open(mk, associatedData(st.RemoteIdentity, st.LocalIdentity, h), env.Ciphertext)
		if err != nil {
			return nil, nil, err
		}
		if slot == record.CurrentSlot {
			st.ClearPending()
		}
		if err := out.Update(slot, st); err != nil {
			return nil, nil, err
		}
		return pt, out, nil
	}

	if out.KnowsRatchetKey(h.RatchetKey) {
		return nil, nil, fmt.Errorf("%w: index %d", types.ErrDuplicateMessage, h.Counter)
	}
	if !out.HasSession() {
		return nil, nil, fmt.Errorf("%w: no state for ratchet key", types.ErrNoSession)
	}

	cur, err := out.Current()
	if err != nil {
		return nil, nil, err
	}
	if err := checkVersion(cur); err != nil {
		return nil, nil, err
	}
	previous, next, err := c.engine.RatchetStep(cur, h.RatchetKey, h.PreviousCounter)
	if err != nil {
		return nil, nil, err
	}
	mk, next, err := c.engine.DeriveReceivingMessageKey(next, h.Counter)
	if err != nil {
		return nil, nil, err
	}
	defer mk.Wipe()
	pt, err := open(mk, associatedData(next.RemoteIdentity, next.LocalIdentity, h), env.Ciphertext)
	if err != nil {
		// Either a forgery or a message for a state that has already been
		// evicted; in both cases no state of the record can open it.
		return nil, nil, fmt.Errorf("%w: no state decrypts ratchet key", types.ErrNoSession)
	}
	next.ClearPending()

	if err := out.Update(record.CurrentSlot, previous); err != nil {
		return nil, nil, err
	}
	out.PromoteNewState(next)
	return pt, out, nil
}

func checkVersion(st ratchet.SessionState) error {
	if st.Version != uint32(types.MessageVersion) {
		return fmt.Errorf("%w: session v%d", types.ErrUnsupportedSessionVersion, st.Version)
	}
	return nil
}

// associatedData binds both identities and the header into the AEAD tag.
func associatedData(sender, receiver types.IdentityKey, h types.RatchetHeader) []byte {
	var buf bytes.Buffer
	buf.Write(sender.Encode())
	buf.Write(receiver.Encode())
	buf.Write(h.Bytes())
	return buf.Bytes()
}

func seal(mk ratchet.MessageKeys, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk.CipherKey[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, mk.Nonce[:], plaintext, ad), nil
}

func open(mk ratchet.MessageKeys, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk.CipherKey[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, mk.Nonce[:], ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", types.ErrInvalidMessage)
	}
	return pt, nil
}
