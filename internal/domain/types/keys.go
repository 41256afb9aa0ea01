package types

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	// KeySize is the width of X25519 keys, Ed25519 public keys and every
	// symmetric key in the protocol.
	KeySize = 32

	// DJBType prefixes every encoded Curve25519 public key.
	DJBType byte = 0x05

	// EncodedKeySize is the length of an encoded X25519 public key.
	EncodedKeySize = 1 + KeySize
	// EncodedIdentitySize is the length of an encoded identity key.
	EncodedIdentitySize = 1 + 2*KeySize
)

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// IsZero reports whether the key is all zeros.
func (p X25519Public) IsZero() bool { return p == X25519Public{} }

// Equal compares two keys in constant time.
func (p X25519Public) Equal(o X25519Public) bool {
	return subtle.ConstantTimeCompare(p[:], o[:]) == 1
}

// Encode returns the type-prefixed wire encoding of the key.
func (p X25519Public) Encode() []byte {
	out := make([]byte, 0, EncodedKeySize)
	out = append(out, DJBType)
	return append(out, p[:]...)
}

// MarshalText encodes the key as base64 of its wire encoding.
func (p X25519Public) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(p.Encode())), nil
}

// UnmarshalText is the inverse of MarshalText.
func (p *X25519Public) UnmarshalText(b []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k, err := DecodeX25519Public(raw)
	if err != nil {
		return err
	}
	*p = k
	return nil
}

// DecodeX25519Public parses a type-prefixed public key. The all-zero
// point is rejected.
func DecodeX25519Public(b []byte) (X25519Public, error) {
	var p X25519Public
	if len(b) != EncodedKeySize {
		return p, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, EncodedKeySize, len(b))
	}
	if b[0] != DJBType {
		return p, fmt.Errorf("%w: unknown key type 0x%02x", ErrInvalidKey, b[0])
	}
	copy(p[:], b[1:])
	if p.IsZero() {
		return X25519Public{}, fmt.Errorf("%w: zero point", ErrInvalidKey)
	}
	return p, nil
}

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// KeyPair is an X25519 private key with its public half.
type KeyPair struct {
	Private X25519Private `json:"priv"`
	Public  X25519Public  `json:"pub"`
}

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// IdentityKey is the long-term public identity of a device: an X25519 key
// for agreement and an Ed25519 key that signs prekeys.
type IdentityKey struct {
	DH      X25519Public
	Signing Ed25519Public
}

// IsZero reports whether both halves are empty.
func (k IdentityKey) IsZero() bool { return k.DH.IsZero() && k.Signing == Ed25519Public{} }

// Equal compares two identity keys in constant time.
func (k IdentityKey) Equal(o IdentityKey) bool {
	return subtle.ConstantTimeCompare(k.Encode(), o.Encode()) == 1
}

// Encode returns 0x05 || dh || signing.
func (k IdentityKey) Encode() []byte {
	out := make([]byte, 0, EncodedIdentitySize)
	out = append(out, DJBType)
	out = append(out, k.DH[:]...)
	return append(out, k.Signing[:]...)
}

// MarshalText encodes the identity as base64.
func (k IdentityKey) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(k.Encode())), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *IdentityKey) UnmarshalText(b []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	id, err := DecodeIdentityKey(raw)
	if err != nil {
		return err
	}
	*k = id
	return nil
}

// DecodeIdentityKey parses an encoded identity key.
func DecodeIdentityKey(b []byte) (IdentityKey, error) {
	var k IdentityKey
	if len(b) != EncodedIdentitySize {
		return k, fmt.Errorf("%w: identity wants %d bytes, got %d", ErrInvalidKey, EncodedIdentitySize, len(b))
	}
	if b[0] != DJBType {
		return k, fmt.Errorf("%w: unknown identity type 0x%02x", ErrInvalidKey, b[0])
	}
	copy(k.DH[:], b[1:1+KeySize])
	copy(k.Signing[:], b[1+KeySize:])
	if k.DH.IsZero() || k.Signing == (Ed25519Public{}) {
		return IdentityKey{}, fmt.Errorf("%w: zero identity half", ErrInvalidKey)
	}
	return k, nil
}
