// Package cache provides the short-lived in-memory state the provider keeps
// outside the database: OAuth authorization codes and live call sessions.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store is a map whose entries expire after a fixed TTL.
type Store[V any] struct {
	mu   sync.RWMutex
	m    map[string]entry[V]
	ttl  time.Duration
	nowF func() time.Time
}

func New[V any](ttl time.Duration) *Store[V] {
	return &Store[V]{
		m:    make(map[string]entry[V]),
		ttl:  ttl,
		nowF: time.Now,
	}
}

// WithClock replaces the clock used for expiry checks.
func (s *Store[V]) WithClock(now func() time.Time) *Store[V] {
	s.nowF = now
	return s
}

func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry[V]{value: value, expiresAt: s.nowF().Add(s.ttl)}
}

// Get returns the value for key if present and not expired.
func (s *Store[V]) Get(key string) (V, bool) {
	now := s.nowF()
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if ok && e.expiresAt.After(now) {
		return e.value, true
	}
	if ok {
		s.evict(key, now)
	}
	var zero V
	return zero, false
}

// evict deletes key only if the entry stored now is still expired at now,
// so a value Set after the caller's read survives.
func (s *Store[V]) evict(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[key]; ok && !e.expiresAt.After(now) {
		delete(s.m, key)
	}
}

// Take returns and removes the value for key. A key can be taken only once.
func (s *Store[V]) Take(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	if !ok || !e.expiresAt.After(s.nowF()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store[V]) Sweep() int {
	return len(s.SweepExpired())
}

// SweepExpired drops expired entries and returns them.
func (s *Store[V]) SweepExpired() map[string]V {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make(map[string]V)
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
			removed[k] = e.value
		}
	}
	return removed
}
