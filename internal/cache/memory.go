package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultMemoryCacheSize bounds the in-process cache. Three entries per
// entity (one per tier) means roughly 1,300 entities resident at once.
const defaultMemoryCacheSize = 4096

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryBackend is an in-process LRU cache backend with per-entry expiry.
// Expiry is checked lazily on read; the LRU bound keeps memory use flat.
type MemoryBackend struct {
	entries *lru.Cache[string, memoryEntry]
}

// NewMemoryBackend creates a memory backend holding up to size entries.
// A size of zero or less uses the default.
func NewMemoryBackend(size int) (*MemoryBackend, error) {
	if size <= 0 {
		size = defaultMemoryCacheSize
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{entries: entries}, nil
}

// Get returns the value for key if present and unexpired. Expired entries
// are removed on access.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.entries.Remove(key)
		return nil, false, nil
	}
	return entry.data, true, nil
}

// Set stores value under key for at most ttl.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries.Add(key, memoryEntry{data: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete removes the given keys.
func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.entries.Remove(key)
	}
	return nil
}
