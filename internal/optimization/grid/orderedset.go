package grid

import "iter"

// compactThreshold is the number of dead slots tolerated before the backing
// slice is rebuilt.
const compactThreshold = 64

// orderedSet is a set of configurations that remembers insertion order.
// Membership and removal are O(1) through a key index; removed entries
// leave a dead slot that Front skips and compaction reclaims.
type orderedSet struct {
	items []Configuration
	index map[string]int
	head  int
	dead  int
}

func newOrderedSet(capacity int) *orderedSet {
	return &orderedSet{
		items: make([]Configuration, 0, capacity),
		index: make(map[string]int, capacity),
	}
}

// Len returns the number of live entries.
func (s *orderedSet) Len() int { return len(s.index) }

// Contains reports whether c is in the set.
func (s *orderedSet) Contains(c Configuration) bool {
	_, ok := s.index[c.key]
	return ok
}

// Add appends c unless it is already present.
func (s *orderedSet) Add(c Configuration) bool {
	if s.Contains(c) {
		return false
	}
	s.index[c.key] = len(s.items)
	s.items = append(s.items, c)
	return true
}

// Remove deletes c, reporting whether it was present.
func (s *orderedSet) Remove(c Configuration) bool {
	i, ok := s.index[c.key]
	if !ok {
		return false
	}
	delete(s.index, c.key)
	s.items[i] = Configuration{}
	s.dead++
	if s.dead > compactThreshold && s.dead > len(s.items)/2 {
		s.compact()
	}
	return true
}

// Front returns the oldest live entry.
func (s *orderedSet) Front() (Configuration, bool) {
	for s.head < len(s.items) && !s.live(s.head) {
		s.head++
	}
	if s.head == len(s.items) {
		return Configuration{}, false
	}
	return s.items[s.head], true
}

// PopFront removes and returns the oldest live entry.
func (s *orderedSet) PopFront() (Configuration, bool) {
	c, ok := s.Front()
	if !ok {
		return Configuration{}, false
	}
	s.Remove(c)
	return c, true
}

// All yields the live entries in insertion order. Each call starts a new
// pass over the set's current contents.
func (s *orderedSet) All() iter.Seq[Configuration] {
	return func(yield func(Configuration) bool) {
		for i := 0; i < len(s.items); i++ {
			if !s.live(i) {
				continue
			}
			if !yield(s.items[i]) {
				return
			}
		}
	}
}

func (s *orderedSet) live(i int) bool {
	j, ok := s.index[s.items[i].key]
	return ok && j == i
}

func (s *orderedSet) compact() {
	items := make([]Configuration, 0, len(s.index))
	for i := range s.items {
		if s.live(i) {
			s.index[s.items[i].key] = len(items)
			items = append(items, s.items[i])
		}
	}
	s.items = items
	s.head = 0
	s.dead = 0
}
