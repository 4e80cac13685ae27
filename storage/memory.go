package storage

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

type memiter struct {
	current int
	keys    []string
	values  [][]byte
}

func (i *memiter) exhausted() bool {
	return len(i.keys) <= i.current
}

func (i *memiter) Next() bool {
	i.current++
	return !i.exhausted()
}

func (*memiter) Err() error {
	return nil
}

func (i *memiter) Key() []byte {
	if i.current < 0 || i.exhausted() {
		return nil
	}

	return []byte(i.keys[i.current])
}

func (i *memiter) Value() ([]byte, error) {
	if i.current < 0 || i.exhausted() {
		return nil, nil
	}

	return i.values[i.current], nil
}

func (i *memiter) Release() {
	// mark the iterator as exhausted
	i.current = len(i.keys)
}

func (i *memiter) Seek(key []byte) bool {
	i.current = sort.SearchStrings(i.keys, string(key))
	return !i.exhausted()
}

type memory struct {
	m         sync.RWMutex
	storage   map[string][]byte
	offset    *uint64
	recovered bool
}

// NewMemory returns a new in-memory storage.
func NewMemory() Storage {
	return &memory{
		storage: make(map[string][]byte),
	}
}

func (m *memory) Has(key string) (bool, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	_, has := m.storage[key]
	return has, nil
}

func (m *memory) Get(key string) ([]byte, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.storage[key], nil
}

func (m *memory) Set(key string, value []byte) error {
	if value == nil {
		return fmt.Errorf("cannot write nil value")
	}
	m.m.Lock()
	defer m.m.Unlock()
	m.storage[key] = value
	return nil
}

func (m *memory) Delete(key string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.storage, key)
	return nil
}

func (m *memory) Write(b *Batch) error {
	for _, e := range b.entries {
		if e.op == opPut && e.value == nil {
			return fmt.Errorf("cannot write nil value (key %s)", e.key)
		}
	}

	m.m.Lock()
	defer m.m.Unlock()
	return b.Replay(
		func(key string, value []byte) error {
			m.storage[key] = value
			return nil
		},
		func(key string) error {
			delete(m.storage, key)
			return nil
		},
	)
}

func (m *memory) Iterator() (Iterator, error) {
	return m.IteratorWithRange(nil, nil)
}

func (m *memory) IteratorWithRange(start, limit []byte) (Iterator, error) {
	m.m.RLock()
	defer m.m.RUnlock()

	keys := make([]string, 0, len(m.storage))
	for k := range m.storage {
		if start != nil && bytes.Compare([]byte(k), start) < 0 {
			continue
		}
		if limit != nil && bytes.Compare([]byte(k), limit) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.storage[k]
	}

	return &memiter{current: -1, keys: keys, values: values}, nil
}

func (m *memory) MarkRecovered() error {
	m.m.Lock()
	defer m.m.Unlock()
	m.recovered = true
	return nil
}

func (m *memory) SetOffset(offset uint64) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.offset = &offset
	return nil
}

func (m *memory) GetOffset(defValue uint64) (uint64, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.offset == nil {
		return defValue, nil
	}

	return *m.offset, nil
}

func (m *memory) Open() error {
	return nil
}

func (m *memory) Close() error {
	return nil
}
