package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"axolotl/internal/crypto"
	"axolotl/internal/domain"
)

const idFilename = "identity.json.enc"

// ErrNoIdentity is returned by LoadIdentity before an identity was saved.
var ErrNoIdentity = errors.New("no identity; run init first")

// IdentityFileStore persists the local identity to disk, encrypted under a
// passphrase.
type IdentityFileStore struct {
	dir    string
	params ScryptParams
	mu     sync.Mutex
}

// IdentityOption configures an IdentityFileStore.
type IdentityOption func(*IdentityFileStore)

// WithScryptParams overrides the KDF cost for newly written files.
func WithScryptParams(p ScryptParams) IdentityOption {
	return func(s *IdentityFileStore) { s.params = p }
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string, opts ...IdentityOption) *IdentityFileStore {
	s := &IdentityFileStore{dir: dir, params: DefaultScryptParams()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveIdentity writes the encrypted identity to disk.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	defer crypto.Wipe(raw)
	ct, err := seal(passphrase, raw, s.params)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, idFilename), ct, 0o600)
}

// LoadIdentity reads and decrypts the identity.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, idFilename))
	if err != nil {
		return domain.Identity{}, err
	}
	if b == nil {
		return domain.Identity{}, ErrNoIdentity
	}
	pt, err := unseal(passphrase, b)
	if err != nil {
		return domain.Identity{}, err
	}
	defer crypto.Wipe(pt)
	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("identity file: %w", err)
	}
	return id, nil
}

// Exists reports whether an identity file is present.
func (s *IdentityFileStore) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, idFilename))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Compile-time assertion that IdentityFileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityFileStore)(nil)
