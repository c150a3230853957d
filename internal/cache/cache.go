// Package cache provides the dedup window cache backing the sweep's
// per-subject alert guard.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores short-lived presence keys. Satisfies sweeper.DedupCache.
type Cache interface {
	// PutOnce stores key with ttl if absent. Returns false when the key
	// already exists.
	PutOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}

// Memory is a process-local Cache for single-node deployments and
// tests. Expired entries are dropped lazily on access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	clock   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func (m *Memory) PutOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if expiry, ok := m.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}

	// Opportunistic cleanup so the map does not grow with dead keys.
	for k, expiry := range m.entries {
		if !now.Before(expiry) {
			delete(m.entries, k)
		}
	}

	m.entries[key] = now.Add(ttl)
	return true, nil
}

func (m *Memory) Close() error {
	return nil
}

var _ Cache = (*Memory)(nil)
