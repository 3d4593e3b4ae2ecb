package partition

import (
	"container/list"
	"sync"
)

// DefaultKnownCapacity bounds the known-partition set.
const DefaultKnownCapacity = 10000

// knownSet remembers partition names confirmed to exist. It evicts the
// oldest entry once full; an evicted partition is simply created again.
type knownSet struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

func newKnownSet(capacity int) *knownSet {
	if capacity <= 0 {
		capacity = DefaultKnownCapacity
	}
	return &knownSet{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (s *knownSet) Contains(name string) bool {
	s.mu.RLock()
	_, ok := s.entries[name]
	s.mu.RUnlock()
	return ok
}

func (s *knownSet) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return
	}
	s.entries[name] = s.order.PushBack(name)
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(string))
	}
}

func (s *knownSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
