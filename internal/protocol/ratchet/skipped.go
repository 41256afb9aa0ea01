package ratchet

// SkippedKeys caches message keys for receiving-chain indices that were
// passed over while deriving a later one. It keeps insertion order; when
// more than the policy bound are held, the oldest key is dropped and that
// message can no longer be decrypted.
type SkippedKeys struct {
	keys []MessageKeys
}

// NewSkippedKeys rebuilds a cache from keys listed oldest first.
func NewSkippedKeys(keys []MessageKeys) SkippedKeys {
	return SkippedKeys{keys: append([]MessageKeys(nil), keys...)}
}

// Len returns the number of cached keys.
func (s SkippedKeys) Len() int { return len(s.keys) }

// Keys returns a copy of the cached keys, oldest first.
func (s SkippedKeys) Keys() []MessageKeys { return append([]MessageKeys(nil), s.keys...) }

// Has reports whether a key for index is cached.
func (s SkippedKeys) Has(index uint32) bool {
	for _, k := range s.keys {
		if k.Index == index {
			return true
		}
	}
	return false
}

// put appends mk, evicting from the front beyond limit. It returns the number
// of evicted keys.
func (s *SkippedKeys) put(mk MessageKeys, limit int) int {
	s.keys = append(s.keys, mk)
	evicted := 0
	for limit >= 0 && len(s.keys) > limit {
		s.keys[0].Wipe()
		s.keys = s.keys[1:]
		evicted++
	}
	return evicted
}

// take removes and returns the key for index.
func (s *SkippedKeys) take(index uint32) (MessageKeys, bool) {
	for i, k := range s.keys {
		if k.Index != index {
			continue
		}
		out := append(s.keys[:i:i], s.keys[i+1:]...)
		s.keys = out
		return k, true
	}
	return MessageKeys{}, false
}

func (s SkippedKeys) clone() SkippedKeys {
	if len(s.keys) == 0 {
		return SkippedKeys{}
	}
	return NewSkippedKeys(s.keys)
}

func (s *SkippedKeys) wipe() {
	for i := range s.keys {
		s.keys[i].Wipe()
	}
	s.keys = nil
}
