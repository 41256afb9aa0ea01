package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"axolotl/internal/domain"
)

// PreKeyStore persists signed and one-time prekeys as JSON values inside
// the caller's transaction.
type PreKeyStore struct{}

// NewPreKeyStore returns a PreKeyStore.
func NewPreKeyStore() *PreKeyStore { return &PreKeyStore{} }

// StoreSignedPreKey stores a signed prekey by id.
func (s *PreKeyStore) StoreSignedPreKey(wc domain.WriteContext, rec domain.SignedPreKeyRecord) error {
	return putJSON(wc, idKey(signedPrefix, uint32(rec.ID)), rec)
}

// LoadSignedPreKey retrieves a signed prekey by id.
func (s *PreKeyStore) LoadSignedPreKey(rc domain.ReadContext, id domain.SignedPreKeyID) (domain.SignedPreKeyRecord, bool, error) {
	var rec domain.SignedPreKeyRecord
	ok, err := getJSON(rc, idKey(signedPrefix, uint32(id)), &rec)
	return rec, ok, err
}

// SetCurrentSignedPreKeyID records which signed prekey goes into bundles.
func (s *PreKeyStore) SetCurrentSignedPreKeyID(wc domain.WriteContext, id domain.SignedPreKeyID) error {
	return wc.Set([]byte(currentSPKKey), binary.BigEndian.AppendUint32(nil, uint32(id)))
}

// CurrentSignedPreKeyID returns the recorded current signed prekey id.
func (s *PreKeyStore) CurrentSignedPreKeyID(rc domain.ReadContext) (domain.SignedPreKeyID, bool, error) {
	raw, ok, err := rc.Get([]byte(currentSPKKey))
	if err != nil || !ok {
		return 0, false, err
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("store: current signed prekey id is %d bytes", len(raw))
	}
	return domain.SignedPreKeyID(binary.BigEndian.Uint32(raw)), true, nil
}

// StorePreKeys merges one-time prekeys into the store.
func (s *PreKeyStore) StorePreKeys(wc domain.WriteContext, recs []domain.PreKeyRecord) error {
	for _, rec := range recs {
		if err := putJSON(wc, idKey(oneTimePrefix, uint32(rec.ID)), rec); err != nil {
			return err
		}
	}
	return nil
}

// LoadPreKey retrieves a one-time prekey without consuming it.
func (s *PreKeyStore) LoadPreKey(rc domain.ReadContext, id domain.PreKeyID) (domain.PreKeyRecord, bool, error) {
	var rec domain.PreKeyRecord
	ok, err := getJSON(rc, idKey(oneTimePrefix, uint32(id)), &rec)
	return rec, ok, err
}

// ConsumePreKey removes and returns a one-time prekey. The removal commits
// with the rest of the caller's transaction.
func (s *PreKeyStore) ConsumePreKey(wc domain.WriteContext, id domain.PreKeyID) (domain.PreKeyRecord, bool, error) {
	rec, ok, err := s.LoadPreKey(wc, id)
	if err != nil || !ok {
		return rec, ok, err
	}
	if err := wc.Delete(idKey(oneTimePrefix, uint32(id))); err != nil {
		return domain.PreKeyRecord{}, false, err
	}
	return rec, true, nil
}

// ListPreKeys exposes only the public halves for bundling, ordered by id.
func (s *PreKeyStore) ListPreKeys(rc domain.ReadContext) ([]domain.OneTimePreKeyPublic, error) {
	var out []domain.OneTimePreKeyPublic
	err := rc.Scan([]byte(oneTimePrefix), func(_, v []byte) error {
		var rec domain.PreKeyRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		out = append(out, domain.OneTimePreKeyPublic{ID: rec.ID, Pub: rec.KeyPair.Public})
		return nil
	})
	return out, err
}

// ReservePreKeyIDs advances the one-time prekey id counter by n and
// returns the first reserved id. Ids start at 1.
func (s *PreKeyStore) ReservePreKeyIDs(wc domain.WriteContext, n int) (domain.PreKeyID, error) {
	if n <= 0 {
		return 0, fmt.Errorf("store: reserve %d prekey ids", n)
	}
	next := uint64(1)
	raw, ok, err := wc.Get([]byte(nextPreKeyKey))
	if err != nil {
		return 0, err
	}
	if ok {
		if len(raw) != 4 {
			return 0, fmt.Errorf("store: next prekey id is %d bytes", len(raw))
		}
		next = uint64(binary.BigEndian.Uint32(raw))
	}
	end := next + uint64(n)
	if end > math.MaxUint32 {
		return 0, fmt.Errorf("store: prekey id space exhausted")
	}
	if err := wc.Set([]byte(nextPreKeyKey), binary.BigEndian.AppendUint32(nil, uint32(end))); err != nil {
		return 0, err
	}
	return domain.PreKeyID(next), nil
}

func putJSON(wc domain.WriteContext, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return wc.Set(key, b)
}

func getJSON(rc domain.ReadContext, key []byte, out any) (bool, error) {
	b, ok, err := rc.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("store: decode %q: %w", key, err)
	}
	return true, nil
}

// Compile-time assertion that PreKeyStore implements domain.PreKeyStore.
var _ domain.PreKeyStore = (*PreKeyStore)(nil)
