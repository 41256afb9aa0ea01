package store

import (
	"fmt"

	"axolotl/internal/domain"
	"axolotl/internal/domain/types"
)

// TrustStore implements trust on first use: the first identity key seen for
// a recipient is stored, and a different key is untrusted until the caller
// saves it explicitly.
type TrustStore struct{}

// NewTrustStore returns a TrustStore.
func NewTrustStore() *TrustStore { return &TrustStore{} }

// IsTrustedIdentity reports whether key may be used for recipient.
func (s *TrustStore) IsTrustedIdentity(rc domain.ReadContext, recipient domain.RecipientID, key domain.IdentityKey) (bool, error) {
	stored, ok, err := s.LoadIdentity(rc, recipient)
	if err != nil {
		return false, err
	}
	return !ok || stored.Equal(key), nil
}

// SaveIdentity stores key for recipient and reports whether it replaced a
// different key.
func (s *TrustStore) SaveIdentity(wc domain.WriteContext, recipient domain.RecipientID, key domain.IdentityKey) (bool, error) {
	stored, ok, err := s.LoadIdentity(wc, recipient)
	if err != nil {
		return false, err
	}
	if ok && stored.Equal(key) {
		return false, nil
	}
	if err := wc.Set(identityKey(recipient), key.Encode()); err != nil {
		return false, err
	}
	return ok, nil
}

// LoadIdentity returns the stored identity key of recipient.
func (s *TrustStore) LoadIdentity(rc domain.ReadContext, recipient domain.RecipientID) (domain.IdentityKey, bool, error) {
	raw, ok, err := rc.Get(identityKey(recipient))
	if err != nil || !ok {
		return domain.IdentityKey{}, false, err
	}
	key, err := types.DecodeIdentityKey(raw)
	if err != nil {
		return domain.IdentityKey{}, false, fmt.Errorf("trusted identity of %s: %w", recipient, err)
	}
	return key, true, nil
}

// ForgetIdentity removes the stored key of recipient.
func (s *TrustStore) ForgetIdentity(wc domain.WriteContext, recipient domain.RecipientID) error {
	return wc.Delete(identityKey(recipient))
}

// Compile-time assertion that TrustStore implements domain.IdentityTrustStore.
var _ domain.IdentityTrustStore = (*TrustStore)(nil)
