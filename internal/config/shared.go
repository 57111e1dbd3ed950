package config

import "sync"

// Shared guards a configuration value read by many tasks and updated
// rarely. Readers never see a partially applied update.
type Shared[T any] struct {
	mu  sync.RWMutex
	val T
}

func NewShared[T any](v T) *Shared[T] {
	return &Shared[T]{val: v}
}

// Read runs fn under the read lock. fn must not retain pointers into v.
func (s *Shared[T]) Read(fn func(v T)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.val)
}

// Load returns a copy of the current value.
func (s *Shared[T]) Load() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.val
}

// Update runs fn under the write lock.
func (s *Shared[T]) Update(fn func(v *T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.val)
}
