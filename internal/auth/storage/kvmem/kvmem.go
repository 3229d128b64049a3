// Package kvmem provides an in-process ephemeral key-value store.
//
// It backs tests and single-binary deployments that run without Redis. Expired
// entries are dropped lazily on access, so an elapsed TTL is indistinguishable
// from a key that was never stored.
package kvmem

import (
	"context"
	"sync"
	"time"

	"github.com/palaverhq/palaver/internal/auth/storage"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is a mutex-guarded TTL map implementing storage.KV.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   func() time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		clock:   time.Now,
	}
}

// SetClock replaces the time source; tests use this to force expiry.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Put stores value under key for ttl. A zero or negative ttl keeps the entry
// until deleted.
func (s *Store) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := entry{value: value}
	if ttl > 0 {
		record.expiresAt = s.clock().Add(ttl)
	}
	s.entries[key] = record
	return nil
}

// Get returns the live value for key or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.entries[key]
	if !ok || s.expired(record) {
		delete(s.entries, key)
		return "", storage.ErrNotFound
	}
	return record.value, nil
}

// GetDel atomically consumes the live value for key. Exactly one concurrent
// caller can win; the rest observe storage.ErrNotFound.
func (s *Store) GetDel(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.entries[key]
	delete(s.entries, key)
	if !ok || s.expired(record) {
		return "", storage.ErrNotFound
	}
	return record.value, nil
}

// Delete removes key; absent keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) expired(record entry) bool {
	return !record.expiresAt.IsZero() && !record.expiresAt.After(s.clock())
}
