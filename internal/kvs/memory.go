package kvs

import (
	"context"
	"sync"
)

// Memory is a Store held in process memory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[string]string)}
}

func (m *Memory) Get(_ context.Context, key, scopeKey string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key][scopeKey]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, scopeKey, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scoped, ok := m.entries[key]
	if !ok {
		scoped = make(map[string]string)
		m.entries[key] = scoped
	}
	scoped[scopeKey] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key, scopeKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[key], scopeKey)
	return nil
}

func (m *Memory) List(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries[key]))
	for scope, v := range m.entries[key] {
		out[scope] = v
	}
	return out, nil
}
