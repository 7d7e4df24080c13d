package store

import (
	"sort"
	"strings"
	"sync"
)

// MemoryDB is an in-memory DB used by the store, indexer, and cache package
// unit tests without standing up a real Badger instance.
type MemoryDB struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{data: make(map[string][]byte)}
}

func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates matching keys in sorted order so tests relying on
// lexicographic schema ordering behave the same as they would against Badger.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return m.ForEachFrom(prefix, prefix, fn)
}

// ForEachFrom mirrors BadgerDB.ForEachFrom: it bounds iteration by
// boundPrefix but starts at the first key lexicographically >= seekKey.
func (m *MemoryDB) ForEachFrom(boundPrefix, seekKey []byte, fn func(key, value []byte) error) error {
	m.mu.Lock()
	bound := string(boundPrefix)
	seek := string(seekKey)
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, bound) && k >= seek {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = m.data[k]
	}
	m.mu.Unlock()

	for _, k := range keys {
		if err := fn([]byte(k), snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) Close() error { return nil }

// NewBatch returns a non-atomic batch — adequate for tests, which don't
// exercise crash-mid-commit semantics.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryBatch struct {
	db  *MemoryDB
	ops []prefixOp
}

func (b *memoryBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, prefixOp{append([]byte(nil), key...), append([]byte{}, value...)})
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	b.ops = append(b.ops, prefixOp{append([]byte(nil), key...), nil})
	return nil
}

func (b *memoryBatch) Commit() error {
	for _, op := range b.ops {
		if op.value == nil {
			if err := b.db.Delete(op.key); err != nil {
				return err
			}
		} else if err := b.db.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}
