// Package memory provides an in-process key/value store for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/crawler-sentinel/internal/kv"
)

type entry struct {
	data    []byte
	expires time.Time
}

// Store keeps JSON-encoded values in a map and expires them lazily against its clock.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   kv.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewStore constructs a Store. A nil clock uses the system time.
func NewStore(clock kv.Clock) *Store {
	if clock == nil {
		clock = systemClock{}
	}
	return &Store{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Get decodes a live value into dst.
func (s *Store) Get(_ context.Context, key string, dst any) error {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.expired(e) {
		return kv.ErrNotFound
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Set stores value until ttl elapses.
func (s *Store) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	e := entry{data: data}
	if ttl > 0 {
		e.expires = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// PurgeExpired drops expired entries and reports how many were removed.
func (s *Store) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) expired(e entry) bool {
	return !e.expires.IsZero() && !s.clock.Now().Before(e.expires)
}
