package credential

import "sync"

// MemoryStore is an in-process Store for tests and tooling. It records the
// attributes of every write and counts mutations.
type MemoryStore struct {
	mu        sync.Mutex
	values    map[string]string
	attrs     map[string]Attributes
	mutations int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store holding initial.
func NewMemoryStore(initial map[string]string) *MemoryStore {
	s := &MemoryStore{
		values: make(map[string]string, len(initial)),
		attrs:  make(map[string]Attributes),
	}
	for k, v := range initial {
		s.values[k] = v
	}
	return s
}

func (s *MemoryStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *MemoryStore) Set(name, value string, attrs Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	s.attrs[name] = attrs
	s.mutations++
}

func (s *MemoryStore) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		return
	}
	delete(s.values, name)
	delete(s.attrs, name)
	s.mutations++
}

// AttributesOf returns the attributes name was last set with.
func (s *MemoryStore) AttributesOf(name string) (Attributes, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attrs[name]
	return a, ok
}

// Mutations returns the number of effective Set and Clear calls.
func (s *MemoryStore) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}
