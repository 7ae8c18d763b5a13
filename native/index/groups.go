package index

// Groups maintains one Set per group key, e.g. "sales by seller". Groups that
// become empty are dropped so GroupCount reflects only live groups.
type Groups[G comparable, K comparable] struct {
	sets map[G]*Set[K]
}

// NewGroups returns an empty grouped index.
func NewGroups[G comparable, K comparable]() *Groups[G, K] {
	return &Groups[G, K]{sets: make(map[G]*Set[K])}
}

func (g *Groups[G, K]) set(group G, create bool) *Set[K] {
	if g.sets == nil {
		g.sets = make(map[G]*Set[K])
	}
	s, ok := g.sets[group]
	if !ok && create {
		s = &Set[K]{}
		g.sets[group] = s
	}
	return s
}

// Add inserts key into group.
func (g *Groups[G, K]) Add(group G, key K) bool {
	return g.set(group, true).Add(key)
}

// Remove deletes key from group and returns its former slot.
func (g *Groups[G, K]) Remove(group G, key K) (int, bool) {
	s := g.set(group, false)
	if s == nil {
		return -1, false
	}
	slot, ok := s.Remove(key)
	if ok && s.Len() == 0 {
		delete(g.sets, group)
	}
	return slot, ok
}

// Insert restores key at slot inside group. See Set.Insert.
func (g *Groups[G, K]) Insert(group G, key K, slot int) bool {
	return g.set(group, true).Insert(key, slot)
}

// Has reports whether key is a member of group.
func (g *Groups[G, K]) Has(group G, key K) bool {
	s := g.set(group, false)
	return s != nil && s.Has(key)
}

// Len returns the size of group.
func (g *Groups[G, K]) Len(group G) int {
	s := g.set(group, false)
	if s == nil {
		return 0
	}
	return s.Len()
}

// At returns the i-th member of group.
func (g *Groups[G, K]) At(group G, i int) (K, bool) {
	s := g.set(group, false)
	if s == nil {
		var zero K
		return zero, false
	}
	return s.At(i)
}

// Keys returns the members of group in slot order.
func (g *Groups[G, K]) Keys(group G) []K {
	s := g.set(group, false)
	if s == nil {
		return nil
	}
	return s.Keys()
}

// GroupCount returns the number of non-empty groups.
func (g *Groups[G, K]) GroupCount() int { return len(g.sets) }

// Each calls fn for every (group, key) pair. Iteration order across groups is
// unspecified.
func (g *Groups[G, K]) Each(fn func(group G, key K)) {
	for group, s := range g.sets {
		for _, key := range s.keys {
			fn(group, key)
		}
	}
}
