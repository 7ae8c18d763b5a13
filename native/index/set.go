// Package index provides the unordered-set primitive backing every secondary
// index of the market ledgers. Entries live in a growable arena and a reverse
// lookup maps each key to its current slot, so removal swaps the removed slot
// with the last one and pops in O(1).
package index

// Set is an unordered set of keys with O(1) add, remove and indexed access.
// The zero value is ready to use.
type Set[K comparable] struct {
	keys []K
	slot map[K]int
}

// Add appends key to the set. It reports false when the key is already present.
func (s *Set[K]) Add(key K) bool {
	if s.slot == nil {
		s.slot = make(map[K]int)
	}
	if _, ok := s.slot[key]; ok {
		return false
	}
	s.slot[key] = len(s.keys)
	s.keys = append(s.keys, key)
	return true
}

// Remove deletes key and returns the slot it occupied. The last key moves into
// the vacated slot.
func (s *Set[K]) Remove(key K) (int, bool) {
	i, ok := s.slot[key]
	if !ok {
		return -1, false
	}
	last := len(s.keys) - 1
	if i != last {
		moved := s.keys[last]
		s.keys[i] = moved
		s.slot[moved] = i
	}
	var zero K
	s.keys[last] = zero
	s.keys = s.keys[:last]
	delete(s.slot, key)
	return i, true
}

// Insert places key at slot, moving the current occupant of that slot to the
// end. Insert(key, slot) is the exact inverse of a Remove(key) that returned
// slot, which lets callers roll a removal back without disturbing order.
func (s *Set[K]) Insert(key K, slot int) bool {
	if s.slot == nil {
		s.slot = make(map[K]int)
	}
	if _, ok := s.slot[key]; ok {
		return false
	}
	if slot < 0 || slot >= len(s.keys) {
		return s.Add(key)
	}
	displaced := s.keys[slot]
	s.slot[displaced] = len(s.keys)
	s.keys = append(s.keys, displaced)
	s.keys[slot] = key
	s.slot[key] = slot
	return true
}

// Has reports whether key is a member.
func (s *Set[K]) Has(key K) bool {
	_, ok := s.slot[key]
	return ok
}

// Len returns the number of members.
func (s *Set[K]) Len() int { return len(s.keys) }

// At returns the key stored in slot i.
func (s *Set[K]) At(i int) (K, bool) {
	if i < 0 || i >= len(s.keys) {
		var zero K
		return zero, false
	}
	return s.keys[i], true
}

// Slot returns the current slot of key.
func (s *Set[K]) Slot(key K) (int, bool) {
	i, ok := s.slot[key]
	return i, ok
}

// Keys returns a copy of the members in slot order.
func (s *Set[K]) Keys() []K {
	return append([]K(nil), s.keys...)
}
