package storage

import (
	"encoding/json"
	"strings"
	"sync"

	"trustcore/errkit"
)

// MemoryKV is an in-memory KV store guarded by a single RWMutex. It backs
// WEB4_BACKEND=fallback and every unit test in this module.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
	seq  map[string]int64
}

// NewMemoryKV constructs an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte), seq: make(map[string]int64)}
}

func (m *MemoryKV) Get(key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errkit.Wrap(errkit.CorruptState, "decode stored value for "+key, err)
	}
	return true, nil
}

func (m *MemoryKV) Put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errkit.Wrap(errkit.InvalidInput, "encode value for "+key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryKV) NextSequence(scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[scope]++
	return m.seq[scope], nil
}
