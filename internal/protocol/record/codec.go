package record

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"axolotl/internal/crypto"
	"axolotl/internal/domain/types"
	"axolotl/internal/protocol/ratchet"
)

// Version is the leading byte of every serialised record.
const Version byte = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 16,
	}).DecMode(); err != nil {
		panic(err)
	}
}

type wireRecord struct {
	Current  *wireState  `cbor:"1,keyasint,omitempty"`
	Previous []wireState `cbor:"2,keyasint,omitempty"`
}

type wireChain struct {
	Key   []byte `cbor:"1,keyasint"`
	Index uint32 `cbor:"2,keyasint"`
}

type wireMessageKey struct {
	CipherKey []byte `cbor:"1,keyasint"`
	Nonce     []byte `cbor:"2,keyasint"`
	Index     uint32 `cbor:"3,keyasint"`
}

type wirePending struct {
	PreKeyID       *uint32 `cbor:"1,keyasint,omitempty"`
	SignedPreKeyID uint32  `cbor:"2,keyasint"`
	BaseKey        []byte  `cbor:"3,keyasint"`
}

type wireState struct {
	Version              uint32           `cbor:"1,keyasint"`
	LocalIdentity        []byte           `cbor:"2,keyasint"`
	RemoteIdentity       []byte           `cbor:"3,keyasint"`
	LocalRegistrationID  uint32           `cbor:"4,keyasint"`
	RemoteRegistrationID uint32           `cbor:"5,keyasint"`
	RootKey              []byte           `cbor:"6,keyasint,omitempty"`
	LocalRatchetPriv     []byte           `cbor:"7,keyasint,omitempty"`
	LocalRatchetPub      []byte           `cbor:"8,keyasint"`
	RemoteRatchet        []byte           `cbor:"9,keyasint"`
	Sending              *wireChain       `cbor:"10,keyasint,omitempty"`
	PreviousCounter      uint32           `cbor:"11,keyasint"`
	Receiving            *wireChain       `cbor:"12,keyasint,omitempty"`
	Skipped              []wireMessageKey `cbor:"13,keyasint,omitempty"`
	BaseKey              []byte           `cbor:"14,keyasint"`
	Pending              *wirePending     `cbor:"15,keyasint,omitempty"`
}

// MarshalBinary encodes the record as a version byte followed by
// deterministic CBOR. Equal records always encode to equal bytes.
func (r *SessionRecord) MarshalBinary() ([]byte, error) {
	w := wireRecord{}
	if r.current != nil {
		ws := toWire(*r.current)
		w.Current = &ws
	}
	for _, st := range r.previous {
		w.Previous = append(w.Previous, toWire(st))
	}
	body, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	return append([]byte{Version}, body...), nil
}

// UnmarshalBinary replaces r with the decoded record.
func (r *SessionRecord) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty record", types.ErrCorruptRecord)
	}
	if data[0] != Version {
		return fmt.Errorf("%w: record version %d", types.ErrUnsupportedSessionVersion, data[0])
	}
	var w wireRecord
	if err := decMode.Unmarshal(data[1:], &w); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCorruptRecord, err)
	}
	if len(w.Previous) > MaxPreviousStates {
		return fmt.Errorf("%w: %d previous states", types.ErrCorruptRecord, len(w.Previous))
	}

	out := SessionRecord{}
	if w.Current != nil {
		st, err := fromWire(*w.Current)
		if err != nil {
			return err
		}
		out.current = &st
	}
	for i, ws := range w.Previous {
		st, err := fromWire(ws)
		if err != nil {
			return fmt.Errorf("previous state %d: %w", i, err)
		}
		out.previous = append(out.previous, st)
	}
	*r = out
	return nil
}

// Decode parses a serialised record.
func Decode(data []byte) (*SessionRecord, error) {
	r := New()
	if err := r.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return r, nil
}

func toWire(st ratchet.SessionState) wireState {
	w := wireState{
		Version:              st.Version,
		LocalIdentity:        st.LocalIdentity.Encode(),
		RemoteIdentity:       st.RemoteIdentity.Encode(),
		LocalRegistrationID:  uint32(st.LocalRegistrationID),
		RemoteRegistrationID: uint32(st.RemoteRegistrationID),
		LocalRatchetPub:      clone(st.LocalRatchet.Public[:]),
		RemoteRatchet:        clone(st.RemoteRatchet[:]),
		PreviousCounter:      st.PreviousCounter,
		BaseKey:              clone(st.BaseKey[:]),
	}
	if st.HasRootKey() {
		w.RootKey = clone(st.RootKey[:])
	}
	if st.LocalRatchet.Private != (types.X25519Private{}) {
		w.LocalRatchetPriv = clone(st.LocalRatchet.Private[:])
	}
	if st.Sending != nil {
		w.Sending = &wireChain{Key: clone(st.Sending.Key[:]), Index: st.Sending.Index}
	}
	if st.Receiving != nil {
		w.Receiving = &wireChain{Key: clone(st.Receiving.Key[:]), Index: st.Receiving.Index}
	}
	for _, mk := range st.Skipped.Keys() {
		w.Skipped = append(w.Skipped, wireMessageKey{
			CipherKey: clone(mk.CipherKey[:]),
			Nonce:     clone(mk.Nonce[:]),
			Index:     mk.Index,
		})
	}
	if st.Pending != nil {
		w.Pending = &wirePending{
			SignedPreKeyID: uint32(st.Pending.SignedPreKeyID),
			BaseKey:        clone(st.Pending.BaseKey[:]),
		}
		if st.Pending.PreKeyID != nil {
			id := uint32(*st.Pending.PreKeyID)
			w.Pending.PreKeyID = &id
		}
	}
	return w
}

func fromWire(w wireState) (ratchet.SessionState, error) {
	if w.Version != uint32(types.MessageVersion) {
		return ratchet.SessionState{}, fmt.Errorf("%w: session v%d", types.ErrUnsupportedSessionVersion, w.Version)
	}
	if len(w.Skipped) > ratchet.MaxSkippedKeysLimit {
		return ratchet.SessionState{}, fmt.Errorf("%w: %d skipped keys", types.ErrCorruptRecord, len(w.Skipped))
	}
	st := ratchet.SessionState{
		Version:              w.Version,
		LocalRegistrationID:  types.RegistrationID(w.LocalRegistrationID),
		RemoteRegistrationID: types.RegistrationID(w.RemoteRegistrationID),
		PreviousCounter:      w.PreviousCounter,
	}
	var err error
	if st.LocalIdentity, err = types.DecodeIdentityKey(w.LocalIdentity); err != nil {
		return st, corrupt("local identity", err)
	}
	if st.RemoteIdentity, err = types.DecodeIdentityKey(w.RemoteIdentity); err != nil {
		return st, corrupt("remote identity", err)
	}
	if err := fixed(st.RootKey[:], w.RootKey, "root key", true); err != nil {
		return st, err
	}
	if err := fixed(st.LocalRatchet.Private[:], w.LocalRatchetPriv, "local ratchet private", true); err != nil {
		return st, err
	}
	if err := fixed(st.LocalRatchet.Public[:], w.LocalRatchetPub, "local ratchet public", false); err != nil {
		return st, err
	}
	if err := fixed(st.RemoteRatchet[:], w.RemoteRatchet, "remote ratchet", false); err != nil {
		return st, err
	}
	if err := fixed(st.BaseKey[:], w.BaseKey, "base key", false); err != nil {
		return st, err
	}
	if w.Sending != nil {
		ck := ratchet.ChainKey{Index: w.Sending.Index}
		if err := fixed(ck.Key[:], w.Sending.Key, "sending chain", false); err != nil {
			return st, err
		}
		st.Sending = &ck
	}
	if w.Receiving != nil {
		ck := ratchet.ChainKey{Index: w.Receiving.Index}
		if err := fixed(ck.Key[:], w.Receiving.Key, "receiving chain", false); err != nil {
			return st, err
		}
		st.Receiving = &ck
	}
	keys := make([]ratchet.MessageKeys, 0, len(w.Skipped))
	for _, wk := range w.Skipped {
		mk := ratchet.MessageKeys{Index: wk.Index}
		if err := fixed(mk.CipherKey[:], wk.CipherKey, "skipped key", false); err != nil {
			return st, err
		}
		if err := fixed(mk.Nonce[:], wk.Nonce, "skipped nonce", false); err != nil {
			return st, err
		}
		keys = append(keys, mk)
		crypto.Wipe(wk.CipherKey)
	}
	st.Skipped = ratchet.NewSkippedKeys(keys)
	if w.Pending != nil {
		p := &ratchet.PendingPreKey{SignedPreKeyID: types.SignedPreKeyID(w.Pending.SignedPreKeyID)}
		if w.Pending.PreKeyID != nil {
			id := types.PreKeyID(*w.Pending.PreKeyID)
			p.PreKeyID = &id
		}
		if err := fixed(p.BaseKey[:], w.Pending.BaseKey, "pending base key", false); err != nil {
			return st, err
		}
		st.Pending = p
	}
	crypto.Wipe(w.RootKey)
	crypto.Wipe(w.LocalRatchetPriv)
	return st, nil
}

// fixed copies src into dst, which must match its length exactly. An empty
// src is accepted only for optional fields and leaves dst zeroed.
func fixed(dst, src []byte, field string, optional bool) error {
	if optional && len(src) == 0 {
		return nil
	}
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %s is %d bytes, want %d", types.ErrCorruptRecord, field, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

func corrupt(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", types.ErrCorruptRecord, field, err)
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }
