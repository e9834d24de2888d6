package storage

import (
	"context"
	"sort"
	"sync"
)

type memoryStorage struct {
	data map[string]map[string]map[string]any
	mu   sync.RWMutex
}

func NewMemoryStorage() Storage {
	return &memoryStorage{
		data: make(map[string]map[string]map[string]any),
	}
}

func (m *memoryStorage) Init(ctx context.Context) error {
	return nil
}

func (m *memoryStorage) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]map[string]map[string]any)
	return nil
}

func (m *memoryStorage) Put(ctx context.Context, prefix string, key string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[prefix] == nil {
		m.data[prefix] = make(map[string]map[string]any)
	}

	// Copy so later caller mutations cannot alias stored state
	m.data[prefix][key] = copyEntry(data)

	return nil
}

// Get returns nil when the key does not exist, so callers can tell a
// missing entry from an empty one.
func (m *memoryStorage) Get(ctx context.Context, prefix string, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.data[prefix][key]
	if !exists {
		return nil, nil
	}

	return copyEntry(entry), nil
}

func (m *memoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data[prefix]))
	for key := range m.data[prefix] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memoryStorage) Delete(ctx context.Context, prefix string, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[prefix] == nil {
		return nil
	}

	delete(m.data[prefix], key)

	return nil
}

func copyEntry(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
