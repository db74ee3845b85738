package config

import "sync/atomic"

// Store holds the live configuration snapshot. Readers get a consistent
// *Config that is never mutated; reloads swap the whole pointer.
type Store struct {
	v atomic.Pointer[Config]
}

func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.v.Store(cfg)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() *Config {
	return s.v.Load()
}

// Replace swaps in a new snapshot and returns the previous one.
func (s *Store) Replace(cfg *Config) *Config {
	return s.v.Swap(cfg)
}
