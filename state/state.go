// Package state implements the keyed entity store of a partition.
//
// The store keeps entities by key together with a unique name index, a
// membership index partitioned by member type and a pending-backfill index of
// derived documents that wait for an entity to appear. Entities of different
// kinds live in separate namespaces (tables) of the same local storage.
//
// Reads go directly to the storage. Mutations are staged in a Txn and become
// visible atomically when the transaction is committed.
package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lovoo/projector/storage"
)

var (
	// ErrDuplicateKey is returned when creating an entity whose key exists.
	ErrDuplicateKey = errors.New("entity already exists")
	// ErrNotFound is returned when mutating an entity that does not exist.
	ErrNotFound = errors.New("entity not found")

	errReadOnly = errors.New("table is read-only")
	errTxnDone  = errors.New("transaction already committed or discarded")
)

// Store is the keyed entity store of one partition. It is owned by the
// partition's driver; other goroutines may only read through Table.
type Store struct {
	st storage.Storage
}

// New creates a store on top of st.
func New(st storage.Storage) *Store {
	return &Store{st: st}
}

// Storage returns the underlying storage.
func (s *Store) Storage() storage.Storage {
	return s.st
}

// Table returns a read-only view of the committed state of namespace ns.
func (s *Store) Table(ns string) Reader {
	return newTable(ns, &committed{st: s.st}, 0)
}

// Begin starts a transaction for the record at position. All entities mutated
// in the transaction are stamped with that position.
func (s *Store) Begin(position uint64) *Txn {
	return &Txn{
		store:    s,
		position: position,
		writes:   make(map[string][]byte),
		deletes:  make(map[string]struct{}),
	}
}

// Dump returns all committed key-value pairs of the store.
func (s *Store) Dump() (map[string]string, error) {
	iter, err := s.st.Iterator()
	if err != nil {
		return nil, err
	}
	defer iter.Release()

	dump := make(map[string]string)
	for iter.Next() {
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		dump[string(iter.Key())] = string(value)
	}
	return dump, iter.Err()
}

// Txn stages mutations of a single record. A Txn is not safe for concurrent
// use.
type Txn struct {
	store    *Store
	position uint64
	writes   map[string][]byte
	deletes  map[string]struct{}
	done     bool
}

// Table returns the mutable view of namespace ns inside the transaction.
func (t *Txn) Table(ns string) Mutator {
	return newTable(ns, t, t.position)
}

// Position returns the position the transaction was started for.
func (t *Txn) Position() uint64 {
	return t.position
}

// Len returns the number of staged writes and deletes.
func (t *Txn) Len() int {
	return len(t.writes) + len(t.deletes)
}

// Commit writes all staged mutations in one atomic storage batch.
func (t *Txn) Commit() error {
	if t.done {
		return errTxnDone
	}

	keys := make([]string, 0, t.Len())
	for k := range t.writes {
		keys = append(keys, k)
	}
	for k := range t.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := new(storage.Batch)
	for _, k := range keys {
		if value, ok := t.writes[k]; ok {
			b.Put(k, value)
		} else {
			b.Delete(k)
		}
	}

	if b.Len() > 0 {
		if err := t.store.st.Write(b); err != nil {
			return fmt.Errorf("error committing state of position %d: %w", t.position, err)
		}
	}
	t.done = true
	return nil
}

// Discard drops all staged mutations.
func (t *Txn) Discard() {
	t.writes = nil
	t.deletes = nil
	t.done = true
}

// kv is the key-value access of a table, either the committed storage or a
// transaction overlay.
type kv interface {
	get(key string) ([]byte, error)
	scan(prefix string) ([]pair, error)
	put(key string, value []byte) error
	del(key string) error
}

type pair struct {
	key   string
	value []byte
}

type committed struct {
	st storage.Storage
}

func (c *committed) get(key string) ([]byte, error) {
	return c.st.Get(key)
}

func (c *committed) scan(prefix string) ([]pair, error) {
	start, limit := storage.PrefixRange([]byte(prefix))
	iter, err := c.st.IteratorWithRange(start, limit)
	if err != nil {
		return nil, err
	}
	defer iter.Release()

	var pairs []pair
	for iter.Next() {
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{
			key:   string(iter.Key()),
			value: append([]byte(nil), value...),
		})
	}
	return pairs, iter.Err()
}

func (c *committed) put(string, []byte) error { return errReadOnly }
func (c *committed) del(string) error         { return errReadOnly }

func (t *Txn) get(key string) ([]byte, error) {
	if t.done {
		return nil, errTxnDone
	}
	if value, ok := t.writes[key]; ok {
		return value, nil
	}
	if _, ok := t.deletes[key]; ok {
		return nil, nil
	}
	return t.store.st.Get(key)
}

func (t *Txn) scan(prefix string) ([]pair, error) {
	if t.done {
		return nil, errTxnDone
	}
	base, err := (&committed{st: t.store.st}).scan(prefix)
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte, len(base))
	for _, p := range base {
		if _, deleted := t.deletes[p.key]; !deleted {
			merged[p.key] = p.value
		}
	}
	for k, v := range t.writes {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}

	pairs := make([]pair, 0, len(merged))
	for k, v := range merged {
		pairs = append(pairs, pair{key: k, value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	return pairs, nil
}

func (t *Txn) put(key string, value []byte) error {
	if t.done {
		return errTxnDone
	}
	delete(t.deletes, key)
	t.writes[key] = value
	return nil
}

func (t *Txn) del(key string) error {
	if t.done {
		return errTxnDone
	}
	delete(t.writes, key)
	t.deletes[key] = struct{}{}
	return nil
}
