package identity

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"unicode"

	"go.uber.org/zap"

	"axolotl/internal/crypto"
	"axolotl/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service manages identity key creation and access using a backing store.
//
// The identity contains:
//   - X25519 key pair for X3DH agreement.
//   - Ed25519 key pair that signs the signed prekey.
//   - A random registration id published in bundles.
type Service struct {
	store  domain.IdentityStore
	logger *zap.Logger
}

// New returns an identity service backed by the given store. A nil logger
// disables logging.
func New(s domain.IdentityStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger.Named("identity")}
}

// GenerateIdentity creates a new identity, saves it encrypted with the
// passphrase, and returns it with the fingerprint of its public key.
func (s *Service) GenerateIdentity(
	passphrase string,
) (domain.Identity, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Identity{}, "", ErrWeakPassphrase
	}

	dh, err := crypto.GenerateX25519(nil)
	if err != nil {
		return domain.Identity{}, "", err
	}
	edPriv, edPub, err := crypto.GenerateEd25519(nil)
	if err != nil {
		return domain.Identity{}, "", err
	}
	reg, err := newRegistrationID()
	if err != nil {
		return domain.Identity{}, "", err
	}

	id := domain.Identity{
		XPub:           dh.Public,
		XPriv:          dh.Private,
		EdPub:          edPub,
		EdPriv:         edPriv,
		RegistrationID: reg,
	}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}
	fp := crypto.IdentityFingerprint(id.PublicKey())
	s.logger.Info("identity created", zap.Stringer("fingerprint", fp), zap.Uint32("registration_id", uint32(reg)))
	return id, fp, nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns the fingerprint of the local identity key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.IdentityFingerprint(id.PublicKey()), nil
}

func newRegistrationID() (domain.RegistrationID, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return domain.RegistrationID(binary.BigEndian.Uint32(b[:])%uint32(domain.MaxRegistrationID) + 1), nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
