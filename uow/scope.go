package uow

import "sync"

// Scope is a small typed-key map bound to one unit of work.
type Scope struct {
	mu     sync.Mutex
	values map[any]any
}

func newScope() *Scope {
	return &Scope{values: make(map[any]any)}
}

func (s *Scope) Load(key any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Scope) Store(key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// LoadOrStore returns the existing value for key, or stores and returns the
// result of create. loaded reports which happened.
func (s *Scope) LoadOrStore(key any, create func() any) (value any, loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok {
		return v, true
	}
	v := create()
	s.values[key] = v
	return v, false
}

func (s *Scope) Delete(key any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
