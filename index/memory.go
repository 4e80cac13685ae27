package index

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Memory is an in-memory index store. Queries only see refreshed documents:
// with manual refresh enabled, writes become searchable after Refresh, which
// emulates the refresh lag of search engines.
type Memory struct {
	m          sync.Mutex
	docs       map[string]map[string]map[string]interface{}
	searchable map[string]map[string]map[string]interface{}
	manual     bool

	batches  int
	fatal    []error
	failures map[string][]error
}

// NewMemory creates an in-memory index store that refreshes after every write.
func NewMemory() *Memory {
	return &Memory{
		docs:       make(map[string]map[string]map[string]interface{}),
		searchable: make(map[string]map[string]map[string]interface{}),
		failures:   make(map[string][]error),
	}
}

// SetManualRefresh switches between refreshing after every write and
// refreshing on Refresh only.
func (m *Memory) SetManualRefresh(manual bool) {
	m.m.Lock()
	defer m.m.Unlock()
	m.manual = manual
	if !manual {
		m.refresh()
	}
}

// Refresh makes all written documents searchable.
func (m *Memory) Refresh() {
	m.m.Lock()
	defer m.m.Unlock()
	m.refresh()
}

func (m *Memory) refresh() {
	m.searchable = make(map[string]map[string]map[string]interface{}, len(m.docs))
	for index, docs := range m.docs {
		cp := make(map[string]map[string]interface{}, len(docs))
		for id, fields := range docs {
			cp[id] = fields
		}
		m.searchable[index] = cp
	}
}

// FailBatches lets the next batch writes fail as a whole, one per error.
func (m *Memory) FailBatches(errs ...error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.fatal = append(m.fatal, errs...)
}

// FailOperations lets the next operations on document id of index fail, one
// per error.
func (m *Memory) FailOperations(index, id string, errs ...error) {
	m.m.Lock()
	defer m.m.Unlock()
	key := index + "/" + id
	m.failures[key] = append(m.failures[key], errs...)
}

// Batches returns the number of batch write requests received.
func (m *Memory) Batches() int {
	m.m.Lock()
	defer m.m.Unlock()
	return m.batches
}

// Get returns a written document.
func (m *Memory) Get(index, id string) (*Document, bool) {
	m.m.Lock()
	defer m.m.Unlock()
	fields, ok := m.docs[index][id]
	if !ok {
		return nil, false
	}
	return &Document{ID: id, Index: index, Fields: copyFields(fields)}, true
}

// Documents returns all written documents of index sorted by id.
func (m *Memory) Documents(index string) []*Document {
	m.m.Lock()
	defer m.m.Unlock()
	docs := make([]*Document, 0, len(m.docs[index]))
	for id, fields := range m.docs[index] {
		docs = append(docs, &Document{ID: id, Index: index, Fields: copyFields(fields)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// BatchWrite applies ops in order.
func (m *Memory) BatchWrite(ctx context.Context, ops []Operation) ([]error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.m.Lock()
	defer m.m.Unlock()
	m.batches++

	if len(m.fatal) > 0 {
		err := m.fatal[0]
		m.fatal = m.fatal[1:]
		return nil, err
	}

	results := make([]error, len(ops))
	for i, op := range ops {
		key := op.Index + "/" + op.ID
		if errs := m.failures[key]; len(errs) > 0 {
			results[i] = errs[0]
			m.failures[key] = errs[1:]
			continue
		}
		results[i] = m.apply(op)
	}

	if !m.manual {
		m.refresh()
	}
	return results, nil
}

func (m *Memory) apply(op Operation) error {
	fields, err := Normalize(op.Fields)
	if err != nil {
		return err
	}

	docs := m.docs[op.Index]
	if docs == nil {
		docs = make(map[string]map[string]interface{})
		m.docs[op.Index] = docs
	}

	switch op.Type {
	case OpInsert:
		docs[op.ID] = fields
	case OpUpdate:
		existing, ok := docs[op.ID]
		if !ok {
			return fmt.Errorf("cannot update %s/%s: %w", op.Index, op.ID, ErrDocumentMissing)
		}
		merged := copyFields(existing)
		for k, v := range fields {
			merged[k] = v
		}
		docs[op.ID] = merged
	case OpDelete:
		delete(docs, op.ID)
	default:
		return fmt.Errorf("unknown operation %s", op.Type)
	}
	return nil
}

// Query returns the ids of the searchable documents of index matching p.
func (m *Memory) Query(ctx context.Context, index string, p Predicate) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := Normalize(p)
	if err != nil {
		return nil, err
	}

	m.m.Lock()
	defer m.m.Unlock()

	ids := []string{}
	for id, fields := range m.searchable[index] {
		if matches(fields, want) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func matches(fields, want map[string]interface{}) bool {
	for k, v := range want {
		if !reflect.DeepEqual(fields[k], v) {
			return false
		}
	}
	return true
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	cp := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}
