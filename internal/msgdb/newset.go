package msgdb

import (
	"sort"
	"sync"
)

// newSet is a per-DB sorted set of keys considered newly arrived since the
// folder was last visited (§4.2.6). Some servers deliver keys out of
// order, so the set is kept sorted ascending rather than in arrival order.
type newSet struct {
	mu   sync.Mutex
	keys []MessageKey
}

func newNewSet() *newSet {
	return &newSet{}
}

// Add inserts key in sorted position if not already present.
func (s *newSet) Add(key MessageKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= key })
	if i < len(s.keys) && s.keys[i] == key {
		return
	}
	s.keys = append(s.keys, 0)
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = key
}

// Keys returns a sorted-ascending copy of the current set.
func (s *newSet) Keys() []MessageKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MessageKey, len(s.keys))
	copy(out, s.keys)
	return out
}

// Clear empties the set and returns the keys it held, for callers that
// need to re-emit HdrFlagsChanged per cleared key.
func (s *newSet) Clear() []MessageKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.keys
	s.keys = nil
	return out
}

func (s *newSet) Remove(key MessageKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= key })
	if i < len(s.keys) && s.keys[i] == key {
		s.keys = append(s.keys[:i], s.keys[i+1:]...)
	}
}
