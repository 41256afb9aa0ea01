package store

import (
	"fmt"
	"sort"

	"axolotl/internal/domain"
	"axolotl/internal/protocol/record"
)

// SessionStore keeps one serialised SessionRecord per remote device on top
// of any Transactor backend.
type SessionStore struct{}

// NewSessionStore returns a SessionStore.
func NewSessionStore() *SessionStore { return &SessionStore{} }

// LoadSession returns the stored record for addr, or a fresh empty record.
func (s *SessionStore) LoadSession(rc domain.ReadContext, addr domain.Address) (*record.SessionRecord, error) {
	raw, ok, err := rc.Get(sessionKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return record.New(), nil
	}
	rec, err := record.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", addr, err)
	}
	return rec, nil
}

// StoreSession serialises rec under addr.
func (s *SessionStore) StoreSession(wc domain.WriteContext, addr domain.Address, rec *record.SessionRecord) error {
	raw, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return wc.Set(sessionKey(addr), raw)
}

// ContainsSession reports whether addr has a record with a live state.
func (s *SessionStore) ContainsSession(rc domain.ReadContext, addr domain.Address) (bool, error) {
	rec, err := s.LoadSession(rc, addr)
	if err != nil {
		return false, err
	}
	return rec.HasSession(), nil
}

// DeleteSession removes the record for addr. A missing record is not an error.
func (s *SessionStore) DeleteSession(wc domain.WriteContext, addr domain.Address) error {
	return wc.Delete(sessionKey(addr))
}

// DeleteAllSessions removes the records of every device of recipient.
func (s *SessionStore) DeleteAllSessions(wc domain.WriteContext, recipient domain.RecipientID) error {
	var keys [][]byte
	err := wc.Scan(recipientSessionPrefix(recipient), func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := wc.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// AllDeviceSessions returns every stored record of recipient ordered by
// device id.
func (s *SessionStore) AllDeviceSessions(rc domain.ReadContext, recipient domain.RecipientID) ([]domain.DeviceSession, error) {
	var out []domain.DeviceSession
	err := rc.Scan(recipientSessionPrefix(recipient), func(k, v []byte) error {
		dev, err := deviceFromKey(k)
		if err != nil {
			return err
		}
		rec, err := record.Decode(v)
		if err != nil {
			return fmt.Errorf("session %s.%d: %w", recipient, dev, err)
		}
		out = append(out, domain.DeviceSession{Device: dev, Record: rec})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out, nil
}

// DeviceIDs lists the devices of recipient that have a live session.
func (s *SessionStore) DeviceIDs(rc domain.ReadContext, recipient domain.RecipientID) ([]domain.DeviceID, error) {
	all, err := s.AllDeviceSessions(rc, recipient)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.DeviceID, 0, len(all))
	for _, ds := range all {
		if ds.Record.HasSession() {
			ids = append(ids, ds.Device)
		}
	}
	return ids, nil
}

// Compile-time assertion that SessionStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionStore)(nil)
