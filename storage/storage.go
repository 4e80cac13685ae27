// Package storage contains the local key-value storages backing the keyed
// entity store of a partition.
package storage

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	ldbiter "github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	offsetKey = "__offset"
)

// ErrClosed is returned when accessing a closed storage.
var ErrClosed = errors.New("storage is closed")

// Iterator provides iteration access to the stored values.
type Iterator interface {
	// Next moves the iterator to the next key-value pair and whether such a pair
	// exists. Caller should check for possible error by calling Error after Next
	// returns false.
	Next() bool
	// Err returns the error that stopped the iteration if any.
	Err() error
	// Key returns the current key. Caller should not keep references to the
	// buffer or modify its contents.
	Key() []byte
	// Value returns the current value. Caller should not keep references to the
	// buffer or modify its contents.
	Value() ([]byte, error)
	// Release releases the iterator. After release, the iterator is not usable
	// anymore.
	Release()
	// Seek moves the iterator to the beginning of a key-value pair sequence that
	// is greater or equal to the given key. It returns whether at least one of
	// such key-value pairs exist.
	Seek(key []byte) bool
}

// Storage is the interface of a partition's local storage. Implementations
// must be safe for concurrent readers while a single writer mutates them.
type Storage interface {
	// Has returns whether the given key exists in the database.
	Has(key string) (bool, error)

	// Get returns the value associated with the given key. If the key does not
	// exist, a nil will be returned.
	Get(key string) ([]byte, error)

	// Set stores a key-value pair.
	Set(key string, value []byte) error

	// Delete deletes a key-value pair from the storage.
	Delete(key string) error

	// Write applies all operations of the batch atomically: either all of them
	// are visible afterwards or none.
	Write(b *Batch) error

	// GetOffset gets the local offset of the storage.
	GetOffset(def uint64) (uint64, error)

	// SetOffset sets the local offset of the storage.
	SetOffset(offset uint64) error

	// Iterator returns an iterator that traverses over a snapshot of the storage
	// in lexicographical key order. The offset key is skipped.
	Iterator() (Iterator, error)

	// IteratorWithRange returns a new Iterator that iterates over the key-value
	// pairs with keys in [start, limit). A nil limit means no upper bound.
	IteratorWithRange(start, limit []byte) (Iterator, error)

	// MarkRecovered marks the storage as recovered. Recovery message throughput
	// can be a lot higher than during normal operation. This can be used to switch
	// to a different configuration after the recovery is done.
	MarkRecovered() error

	// Open opens/initialize the storage
	Open() error

	// Close closes the storage.
	Close() error
}

// Builder creates a local storage for the keyed entity store of a partition.
type Builder func(name string, partition uint32) (Storage, error)

// PrefixRange returns the [start, limit) range covering all keys that start
// with prefix.
func PrefixRange(prefix []byte) (start, limit []byte) {
	r := util.BytesPrefix(prefix)
	return r.Start, r.Limit
}

// store is the common interface between a transaction and db instance
type store interface {
	Has([]byte, *opt.ReadOptions) (bool, error)
	Get([]byte, *opt.ReadOptions) ([]byte, error)
	Put([]byte, []byte, *opt.WriteOptions) error
	Delete([]byte, *opt.WriteOptions) error
	NewIterator(*util.Range, *opt.ReadOptions) ldbiter.Iterator
}

type storage struct {
	// store is the active store, either db or tx
	store store
	db    *leveldb.DB
	// tx is the transaction used for recovery
	tx *leveldb.Transaction

	// wopts are the options of writes that must survive a crash
	wopts *opt.WriteOptions
}

// New creates a new Storage backed by LevelDB. Until MarkRecovered is called,
// writes go through a LevelDB transaction.
func New(db *leveldb.DB) (Storage, error) {
	tx, err := db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("error opening leveldb transaction: %v", err)
	}

	return &storage{
		store: tx,
		db:    db,
		tx:    tx,
		wopts: &opt.WriteOptions{Sync: true},
	}, nil
}

func (s *storage) Iterator() (Iterator, error) {
	return s.IteratorWithRange(nil, nil)
}

func (s *storage) IteratorWithRange(start, limit []byte) (Iterator, error) {
	var r *util.Range
	if start != nil || limit != nil {
		r = &util.Range{Start: start, Limit: limit}
	}

	if s.store == s.db {
		snap, err := s.db.GetSnapshot()
		if err != nil {
			return nil, fmt.Errorf("error creating leveldb snapshot: %v", err)
		}
		return &iterator{
			iter: snap.NewIterator(r, nil),
			snap: snap,
		}, nil
	}

	return &iterator{
		iter: s.store.NewIterator(r, nil),
	}, nil
}

func (s *storage) Has(key string) (bool, error) {
	return s.store.Has([]byte(key), nil)
}

func (s *storage) Get(key string) ([]byte, error) {
	value, err := s.store.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("error getting from leveldb (key %s): %v", key, err)
	}
	return value, nil
}

func (s *storage) GetOffset(defValue uint64) (uint64, error) {
	data, err := s.Get(offsetKey)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return defValue, nil
	}

	value, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error decoding offset: %v", err)
	}
	return value, nil
}

func (s *storage) Set(key string, value []byte) error {
	if err := s.store.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("error setting to leveldb (key %s): %v", key, err)
	}
	return nil
}

func (s *storage) SetOffset(offset uint64) error {
	if err := s.store.Put([]byte(offsetKey), []byte(strconv.FormatUint(offset, 10)), s.wopts); err != nil {
		return fmt.Errorf("error setting offset to leveldb: %v", err)
	}
	return nil
}

func (s *storage) Delete(key string) error {
	if err := s.store.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("error deleting from leveldb (key %s): %v", key, err)
	}
	return nil
}

func (s *storage) Write(b *Batch) error {
	batch := new(leveldb.Batch)
	for _, e := range b.entries {
		switch e.op {
		case opPut:
			batch.Put([]byte(e.key), e.value)
		case opDelete:
			batch.Delete([]byte(e.key))
		}
	}

	var err error
	if s.store == s.db {
		err = s.db.Write(batch, s.wopts)
	} else {
		err = s.tx.Write(batch, s.wopts)
	}
	if err != nil {
		return fmt.Errorf("error writing batch to leveldb: %v", err)
	}
	return nil
}

func (s *storage) MarkRecovered() error {
	if s.store == s.db {
		return nil
	}

	s.store = s.db
	return s.tx.Commit()
}

func (s *storage) Open() error {
	return nil
}

func (s *storage) Close() error {
	if s.store == s.tx {
		if err := s.tx.Commit(); err != nil {
			return fmt.Errorf("error closing transaction: %v", err)
		}
	}

	return s.db.Close()
}
