package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend keeps entries in process memory. A positive maxBytes bounds
// the summed size of keys and values; writes beyond it report full.
type MemoryBackend struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	size     int
	maxBytes int
}

// NewMemoryBackend creates an empty store. maxBytes <= 0 means unbounded.
func NewMemoryBackend(maxBytes int) *MemoryBackend {
	return &MemoryBackend{
		entries:  make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.size + len(key) + len(value)
	if old, ok := m.entries[key]; ok {
		size -= len(key) + len(old)
	}
	if m.maxBytes > 0 && size > m.maxBytes {
		return false, nil
	}
	m.entries[key] = append([]byte(nil), value...)
	m.size = size
	return true, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries[key]; ok {
		m.size -= len(key) + len(old)
		delete(m.entries, key)
	}
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Size returns the bytes currently held.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
