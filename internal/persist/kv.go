package persist

import (
	"context"
	"errors"
	"sync"
)

// KV is the per-player key-value surface snapshots are stored in. Values are
// JSON documents. PutAll must apply every field or none.
type KV interface {
	Get(ctx context.Context, playerKey, field string) ([]byte, bool, error)
	PutAll(ctx context.Context, playerKey string, fields map[string][]byte) error
}

var ErrInjected = errors.New("injected storage failure")

// MemoryKV keeps fields in process memory. It backs the "memory" store mode
// and the tests.
type MemoryKV struct {
	mu         sync.RWMutex
	data       map[string]map[string][]byte
	failReads  bool
	failWrites bool
	writes     int
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, playerKey, field string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failReads {
		return nil, false, ErrInjected
	}
	raw, ok := m.data[playerKey][field]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true, nil
}

func (m *MemoryKV) PutAll(_ context.Context, playerKey string, fields map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return ErrInjected
	}
	next := make(map[string][]byte, len(m.data[playerKey])+len(fields))
	for k, v := range m.data[playerKey] {
		next[k] = v
	}
	for k, v := range fields {
		cp := make([]byte, len(v))
		copy(cp, v)
		next[k] = cp
	}
	m.data[playerKey] = next
	m.writes++
	return nil
}

// Set writes a single raw field, bypassing the adapter.
func (m *MemoryKV) Set(playerKey, field string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[playerKey] == nil {
		m.data[playerKey] = make(map[string][]byte)
	}
	m.data[playerKey][field] = raw
}

func (m *MemoryKV) Delete(playerKey, field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[playerKey], field)
}

func (m *MemoryKV) FailReads(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = v
}

func (m *MemoryKV) FailWrites(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = v
}

// Writes counts successful PutAll calls.
func (m *MemoryKV) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
