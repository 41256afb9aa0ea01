package types

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// RawPreKeyBundle is the unvalidated wire form of a bundle as served by a
// directory. Byte fields are base64 in JSON.
type RawPreKeyBundle struct {
	RegistrationID        RegistrationID `json:"registration_id"`
	DeviceID              DeviceID       `json:"device_id"`
	IdentityKey           []byte         `json:"identity_key"`
	SignedPreKeyID        SignedPreKeyID `json:"signed_pre_key_id"`
	SignedPreKeyPublic    []byte         `json:"signed_pre_key_public"`
	SignedPreKeySignature []byte         `json:"signed_pre_key_signature"`
	PreKeyID              *PreKeyID      `json:"pre_key_id,omitempty"`
	PreKeyPublic          []byte         `json:"pre_key_public,omitempty"`
}

// PreKeyBundle is the set of public keys a device publishes so that others
// can start a session with it while it is offline. Values are immutable;
// build them with NewPreKeyBundle.
type PreKeyBundle struct {
	RegistrationID        RegistrationID
	DeviceID              DeviceID
	IdentityKey           IdentityKey
	SignedPreKeyID        SignedPreKeyID
	SignedPreKey          X25519Public
	SignedPreKeySignature []byte
	PreKey                *OneTimePreKeyPublic
}

// NewPreKeyBundle validates raw and returns the bundle. It fails with
// ErrMalformedBundle if the identity key, signed prekey or signature is
// missing or malformed, if the registration id is out of range, or if only
// half of the one-time prekey is present.
// The signature itself is checked by Verify.
func NewPreKeyBundle(raw RawPreKeyBundle) (PreKeyBundle, error) {
	if !raw.RegistrationID.Valid() {
		return PreKeyBundle{}, fmt.Errorf("%w: registration id %d", ErrMalformedBundle, raw.RegistrationID)
	}
	if len(raw.IdentityKey) == 0 {
		return PreKeyBundle{}, fmt.Errorf("%w: missing identity key", ErrMalformedBundle)
	}
	if len(raw.SignedPreKeyPublic) == 0 {
		return PreKeyBundle{}, fmt.Errorf("%w: missing signed prekey", ErrMalformedBundle)
	}
	if len(raw.SignedPreKeySignature) == 0 {
		return PreKeyBundle{}, fmt.Errorf("%w: missing signed prekey signature", ErrMalformedBundle)
	}
	if len(raw.SignedPreKeySignature) != ed25519.SignatureSize {
		return PreKeyBundle{}, fmt.Errorf("%w: signature is %d bytes", ErrMalformedBundle, len(raw.SignedPreKeySignature))
	}

	ik, err := DecodeIdentityKey(raw.IdentityKey)
	if err != nil {
		return PreKeyBundle{}, fmt.Errorf("%w: identity key: %w", ErrMalformedBundle, err)
	}
	spk, err := DecodeX25519Public(raw.SignedPreKeyPublic)
	if err != nil {
		return PreKeyBundle{}, fmt.Errorf("%w: signed prekey: %w", ErrMalformedBundle, err)
	}

	b := PreKeyBundle{
		RegistrationID:        raw.RegistrationID,
		DeviceID:              raw.DeviceID,
		IdentityKey:           ik,
		SignedPreKeyID:        raw.SignedPreKeyID,
		SignedPreKey:          spk,
		SignedPreKeySignature: append([]byte(nil), raw.SignedPreKeySignature...),
	}

	switch {
	case raw.PreKeyID == nil && len(raw.PreKeyPublic) == 0:
	case raw.PreKeyID == nil || len(raw.PreKeyPublic) == 0:
		return PreKeyBundle{}, fmt.Errorf("%w: one-time prekey id and key must be paired", ErrMalformedBundle)
	default:
		opk, err := DecodeX25519Public(raw.PreKeyPublic)
		if err != nil {
			return PreKeyBundle{}, fmt.Errorf("%w: one-time prekey: %w", ErrMalformedBundle, err)
		}
		b.PreKey = &OneTimePreKeyPublic{ID: *raw.PreKeyID, Pub: opk}
	}
	return b, nil
}

// Raw returns the wire form of the bundle.
func (b PreKeyBundle) Raw() RawPreKeyBundle {
	raw := RawPreKeyBundle{
		RegistrationID:        b.RegistrationID,
		DeviceID:              b.DeviceID,
		IdentityKey:           b.IdentityKey.Encode(),
		SignedPreKeyID:        b.SignedPreKeyID,
		SignedPreKeyPublic:    b.SignedPreKey.Encode(),
		SignedPreKeySignature: append([]byte(nil), b.SignedPreKeySignature...),
	}
	if b.PreKey != nil {
		id := b.PreKey.ID
		raw.PreKeyID = &id
		raw.PreKeyPublic = b.PreKey.Pub.Encode()
	}
	return raw
}

// MarshalJSON encodes the bundle in its wire form.
func (b PreKeyBundle) MarshalJSON() ([]byte, error) { return json.Marshal(b.Raw()) }

// UnmarshalJSON decodes and validates the wire form.
func (b *PreKeyBundle) UnmarshalJSON(data []byte) error {
	var raw RawPreKeyBundle
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	nb, err := NewPreKeyBundle(raw)
	if err != nil {
		return err
	}
	*b = nb
	return nil
}

// Verify checks the signed prekey signature against the identity key. Only
// a verified bundle can be used to originate a session.
func (b PreKeyBundle) Verify() (VerifiedPreKeyBundle, error) {
	if !ed25519.Verify(b.IdentityKey.Signing.Slice(), b.SignedPreKey.Encode(), b.SignedPreKeySignature) {
		return VerifiedPreKeyBundle{}, fmt.Errorf("%w: bad signed prekey signature", ErrUntrustedIdentity)
	}
	return VerifiedPreKeyBundle{bundle: b, ok: true}, nil
}

// VerifiedPreKeyBundle is a bundle whose signature has been checked. The
// zero value is not verified.
type VerifiedPreKeyBundle struct {
	bundle PreKeyBundle
	ok     bool
}

// Bundle returns the underlying bundle.
func (v VerifiedPreKeyBundle) Bundle() PreKeyBundle { return v.bundle }

// Verified reports whether the value came from PreKeyBundle.Verify.
func (v VerifiedPreKeyBundle) Verified() bool { return v.ok }
