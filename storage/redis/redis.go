package redis

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lovoo/projector/storage"

	redis "gopkg.in/redis.v5"
)

const (
	offsetKey = "__offset"
	scanCount = 1000
)

type redisStorage struct {
	client *redis.Client
	hash   string
}

// New creates a new Storage backed by Redis. All keys of the storage live in
// one redis hash.
func New(client *redis.Client, hash string) (storage.Storage, error) {
	if client == nil {
		return nil, errors.New("invalid redis client")
	}
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}
	return &redisStorage{
		client: client,
		hash:   hash,
	}, nil
}

func (s *redisStorage) Has(key string) (bool, error) {
	return s.client.HExists(s.hash, key).Result()
}

func (s *redisStorage) Get(key string) ([]byte, error) {
	value, err := s.client.HGet(s.hash, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("error getting from redis (key %s): %v", key, err)
	}
	return value, nil
}

func (s *redisStorage) GetOffset(defValue uint64) (uint64, error) {
	data, err := s.Get(offsetKey)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return defValue, nil
	}

	value, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error decoding redis offset (%s): %v", string(data), err)
	}
	return value, nil
}

func (s *redisStorage) Set(key string, value []byte) error {
	err := s.client.HSet(s.hash, key, value).Err()
	if err != nil {
		return fmt.Errorf("error setting to redis (key %s): %v", key, err)
	}
	return nil
}

func (s *redisStorage) SetOffset(offset uint64) error {
	return s.Set(offsetKey, []byte(strconv.FormatUint(offset, 10)))
}

func (s *redisStorage) Delete(key string) error {
	return s.client.HDel(s.hash, key).Err()
}

// Write applies the batch inside MULTI/EXEC.
func (s *redisStorage) Write(b *storage.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(func(pipe *redis.Pipeline) error {
		return b.Replay(
			func(key string, value []byte) error {
				return pipe.HSet(s.hash, key, value).Err()
			},
			func(key string) error {
				return pipe.HDel(s.hash, key).Err()
			},
		)
	})
	if err != nil {
		return fmt.Errorf("error writing batch to redis: %v", err)
	}
	return nil
}

func (s *redisStorage) Iterator() (storage.Iterator, error) {
	return s.IteratorWithRange(nil, nil)
}

// IteratorWithRange scans the fields of the hash sharing the common prefix of
// start and limit and iterates the ones in range in key order.
func (s *redisStorage) IteratorWithRange(start, limit []byte) (storage.Iterator, error) {
	var (
		match  = globEscape(commonPrefix(start, limit)) + "*"
		all    = make(map[string]string)
		cursor uint64
	)
	for {
		pairs, next, err := s.client.HScan(s.hash, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("error scanning redis hash %s: %v", s.hash, err)
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			all[pairs[i]] = pairs[i+1]
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	var keys []string
	for k := range all {
		if k == offsetKey {
			continue
		}
		if start != nil && bytes.Compare([]byte(k), start) < 0 {
			continue
		}
		if limit != nil && bytes.Compare([]byte(k), limit) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = all[k]
	}
	return &redisIterator{current: -1, keys: keys, values: values}, nil
}

// commonPrefix returns the prefix every key in [start, limit) starts with.
func commonPrefix(start, limit []byte) []byte {
	if start == nil || limit == nil {
		return nil
	}
	if _, l := storage.PrefixRange(start); bytes.Equal(l, limit) {
		return start
	}
	n := 0
	for n < len(start) && n < len(limit) && start[n] == limit[n] {
		n++
	}
	return start[:n]
}

func globEscape(prefix []byte) string {
	var b strings.Builder
	for _, c := range prefix {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (s *redisStorage) MarkRecovered() error {
	return nil
}

func (s *redisStorage) Open() error {
	return nil
}

func (s *redisStorage) Close() error {
	return nil
}

// redisIterator iterates over a sorted copy of the hash fields.
type redisIterator struct {
	current int
	keys    []string
	values  []string
}

func (i *redisIterator) exhausted() bool {
	return i.current < 0 || len(i.keys) <= i.current
}

func (i *redisIterator) Next() bool {
	i.current++
	return !i.exhausted()
}

func (i *redisIterator) Key() []byte {
	if i.exhausted() {
		return nil
	}
	return []byte(i.keys[i.current])
}

func (i *redisIterator) Err() error {
	return nil
}

func (i *redisIterator) Value() ([]byte, error) {
	if i.exhausted() {
		return nil, nil
	}
	return []byte(i.values[i.current]), nil
}

func (i *redisIterator) Release() {
	i.current = len(i.keys)
}

func (i *redisIterator) Seek(key []byte) bool {
	i.current = sort.SearchStrings(i.keys, string(key))
	return !i.exhausted()
}
