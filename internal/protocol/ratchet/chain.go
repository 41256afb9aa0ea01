package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"axolotl/internal/crypto"
	"axolotl/internal/domain/types"
)

const (
	messageKeySeed byte = 0x01
	chainKeySeed   byte = 0x02
)

var (
	rootInfo    = []byte("axolotl-ratchet")
	messageInfo = []byte("axolotl-message-keys")
)

// RootKey seeds every DH ratchet step.
type RootKey [types.KeySize]byte

// IsZero reports whether the key is unset.
func (r RootKey) IsZero() bool { return r == RootKey{} }

// CreateChain mixes a DH output into the root key and returns the next root
// key together with a fresh chain key at index 0.
func (r RootKey) CreateChain(shared [types.KeySize]byte) (RootKey, ChainKey) {
	kdf := hkdf.New(sha256.New, shared[:], r[:], rootInfo)
	var out [2 * types.KeySize]byte
	_, _ = io.ReadFull(kdf, out[:])

	var next RootKey
	var ck ChainKey
	copy(next[:], out[:types.KeySize])
	copy(ck.Key[:], out[types.KeySize:])
	crypto.Wipe(out[:])
	return next, ck
}

// ChainKey is one link of a symmetric ratchet. It only moves forward.
type ChainKey struct {
	Key   [types.KeySize]byte
	Index uint32
}

// Next returns the chain key for Index+1.
func (c ChainKey) Next() ChainKey {
	return ChainKey{Key: c.mac(chainKeySeed), Index: c.Index + 1}
}

// MessageKeys derives the single-use keys for the current index.
func (c ChainKey) MessageKeys() MessageKeys {
	seed := c.mac(messageKeySeed)
	defer crypto.WipeKey(&seed)

	kdf := hkdf.New(sha256.New, seed[:], nil, messageInfo)
	mk := MessageKeys{Index: c.Index}
	_, _ = io.ReadFull(kdf, mk.CipherKey[:])
	_, _ = io.ReadFull(kdf, mk.Nonce[:])
	return mk
}

func (c ChainKey) mac(seed byte) (out [types.KeySize]byte) {
	h := hmac.New(sha256.New, c.Key[:])
	h.Write([]byte{seed})
	copy(out[:], h.Sum(nil))
	return out
}

// MessageKeys encrypt exactly one message.
type MessageKeys struct {
	CipherKey [types.KeySize]byte
	Nonce     [chacha20poly1305.NonceSize]byte
	Index     uint32
}

// Equal compares two message keys.
func (m MessageKeys) Equal(o MessageKeys) bool {
	return hmac.Equal(m.CipherKey[:], o.CipherKey[:]) && m.Nonce == o.Nonce && m.Index == o.Index
}

// Wipe zeroes the key material.
func (m *MessageKeys) Wipe() {
	crypto.WipeKey(&m.CipherKey)
	crypto.Wipe(m.Nonce[:])
}
