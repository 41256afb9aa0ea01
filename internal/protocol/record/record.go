package record

import (
	"fmt"

	"axolotl/internal/domain/types"
	"axolotl/internal/protocol/ratchet"
)

// MaxPreviousStates is how many superseded states a record keeps. Each DH
// ratchet step archives one state, so a message can still be decrypted if
// it was sent at most this many peer ratchet steps ago.
const MaxPreviousStates = 5

// Slot addresses a state inside a record: 0 is the current state, n > 0 is
// the n-th newest archived state.
type Slot int

// CurrentSlot addresses the current state.
const CurrentSlot Slot = 0

// SessionRecord holds the current state of a session and a bounded,
// newest-first history of superseded states. Records handed out by a
// store are copies; mutate them and store them back.
type SessionRecord struct {
	current  *ratchet.SessionState
	previous []ratchet.SessionState
}

// New returns an empty record.
func New() *SessionRecord { return &SessionRecord{} }

// FromState returns a record whose current state is st.
func FromState(st ratchet.SessionState) *SessionRecord {
	c := st.Clone()
	return &SessionRecord{current: &c}
}

// Current returns a copy of the live state.
func (r *SessionRecord) Current() (ratchet.SessionState, error) {
	if r.current == nil {
		return ratchet.SessionState{}, fmt.Errorf("%w: record is empty", types.ErrNoSession)
	}
	return r.current.Clone(), nil
}

// PreviousStates returns copies of the archived states, newest first.
func (r *SessionRecord) PreviousStates() []ratchet.SessionState {
	out := make([]ratchet.SessionState, len(r.previous))
	for i, st := range r.previous {
		out[i] = st.Clone()
	}
	return out
}

// HasSession reports whether the record holds a usable current state.
func (r *SessionRecord) HasSession() bool {
	return r.current != nil && r.current.HasRootKey()
}

// IsEmpty reports whether the record holds no state at all.
func (r *SessionRecord) IsEmpty() bool { return r.current == nil && len(r.previous) == 0 }

// PromoteNewState makes st current. The old current state, if any, is
// archived as the newest previous state and the oldest archived state is
// dropped beyond MaxPreviousStates.
func (r *SessionRecord) PromoteNewState(st ratchet.SessionState) {
	if r.current != nil {
		r.archive(*r.current)
	}
	c := st.Clone()
	r.current = &c
}

// ArchiveCurrentState moves the current state into the history, leaving
// the record without a session until a new state is promoted.
func (r *SessionRecord) ArchiveCurrentState() {
	if r.current == nil {
		return
	}
	r.archive(*r.current)
	r.current = nil
}

func (r *SessionRecord) archive(st ratchet.SessionState) {
	r.previous = append([]ratchet.SessionState{st.Archived()}, r.previous...)
	for len(r.previous) > MaxPreviousStates {
		last := len(r.previous) - 1
		r.previous[last].Wipe()
		r.previous = r.previous[:last]
	}
}

// FindStateForReceiving returns the first state, current then archived
// newest first, whose receiving chain belongs to remoteRatchet and can
// still produce the key for index.
func (r *SessionRecord) FindStateForReceiving(index uint32, remoteRatchet types.X25519Public) (ratchet.SessionState, Slot, bool) {
	if r.current != nil && matches(*r.current, index, remoteRatchet) {
		return r.current.Clone(), CurrentSlot, true
	}
	for i, st := range r.previous {
		if matches(st, index, remoteRatchet) {
			return st.Clone(), Slot(i + 1), true
		}
	}
	return ratchet.SessionState{}, 0, false
}

// KnowsRatchetKey reports whether any state has a receiving chain for
// remoteRatchet, regardless of index.
func (r *SessionRecord) KnowsRatchetKey(remoteRatchet types.X25519Public) bool {
	if r.current != nil && r.current.Receiving != nil && r.current.RemoteRatchet.Equal(remoteRatchet) {
		return true
	}
	for _, st := range r.previous {
		if st.Receiving != nil && st.RemoteRatchet.Equal(remoteRatchet) {
			return true
		}
	}
	return false
}

func matches(st ratchet.SessionState, index uint32, remoteRatchet types.X25519Public) bool {
	return st.Receiving != nil && st.RemoteRatchet.Equal(remoteRatchet) && st.CanReceive(index)
}

// Update replaces the state at slot, typically after deriving a receiving
// key from a state returned by FindStateForReceiving.
func (r *SessionRecord) Update(slot Slot, st ratchet.SessionState) error {
	switch {
	case slot == CurrentSlot && r.current != nil:
		c := st.Clone()
		r.current = &c
	case slot > 0 && int(slot) <= len(r.previous):
		r.previous[slot-1] = st.Archived()
	default:
		return fmt.Errorf("record: no state at slot %d", slot)
	}
	return nil
}

// HasBaseKey reports whether a state of this record was created from the
// X3DH base key, meaning a PreKeyMessage carrying it has been processed.
func (r *SessionRecord) HasBaseKey(base types.X25519Public) bool {
	if r.current != nil && r.current.BaseKey.Equal(base) {
		return true
	}
	for _, st := range r.previous {
		if st.BaseKey.Equal(base) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r.
func (r *SessionRecord) Clone() *SessionRecord {
	out := &SessionRecord{}
	if r.current != nil {
		c := r.current.Clone()
		out.current = &c
	}
	out.previous = r.PreviousStates()
	return out
}
