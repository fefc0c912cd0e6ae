package vault

import (
	"context"
	"sync"
)

// Memory is an in-process vault for tests and ephemeral sessions. Records
// are held as plaintext bytes; nothing leaves the process.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory creates an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

// Put writes the record for key, replacing any previous value.
func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	m.records[key] = buf
	return nil
}

// Get returns the record for key, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, nil
}

// Delete removes the record for key. Deleting an absent key is not an error.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// CheckHealth always succeeds for the in-memory vault.
func (m *Memory) CheckHealth(ctx context.Context) error {
	return nil
}
