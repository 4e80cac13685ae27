package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

func newLevelDB(t *testing.T) Storage {
	db, err := leveldb.OpenFile(t.TempDir(), nil)
	require.NoError(t, err)

	st, err := New(db)
	require.NoError(t, err)
	require.NoError(t, st.MarkRecovered())
	t.Cleanup(func() { st.Close() })
	return st
}

// storages returns a fresh instance of every non-discarding backend.
func storages(t *testing.T) map[string]Storage {
	return map[string]Storage{
		"memory":  NewMemory(),
		"leveldb": newLevelDB(t),
	}
}

func collect(t *testing.T, iter Iterator) map[string]string {
	defer iter.Release()
	found := make(map[string]string)
	var order []string
	for iter.Next() {
		val, err := iter.Value()
		require.NoError(t, err)
		found[string(iter.Key())] = string(val)
		order = append(order, string(iter.Key()))
	}
	require.NoError(t, iter.Err())
	require.IsIncreasing(t, order)
	return found
}

func TestStorage_GetHas(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			has, err := st.Has("test-key")
			require.NoError(t, err)
			require.False(t, has)

			value, err := st.Get("test-key")
			require.NoError(t, err)
			require.Nil(t, value)

			require.NoError(t, st.Set("test-key", []byte("test")))

			has, err = st.Has("test-key")
			require.NoError(t, err)
			require.True(t, has)

			value, err = st.Get("test-key")
			require.NoError(t, err)
			require.Equal(t, []byte("test"), value)

			require.NoError(t, st.Delete("test-key"))
			has, err = st.Has("test-key")
			require.NoError(t, err)
			require.False(t, has)
		})
	}
}

func TestStorage_Offset(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			offset, err := st.GetOffset(7)
			require.NoError(t, err)
			require.Equal(t, uint64(7), offset)

			require.NoError(t, st.SetOffset(123))
			offset, err = st.GetOffset(7)
			require.NoError(t, err)
			require.Equal(t, uint64(123), offset)

			// the offset is never returned by iterators
			require.NoError(t, st.Set("key", []byte("value")))
			iter, err := st.Iterator()
			require.NoError(t, err)
			require.Equal(t, map[string]string{"key": "value"}, collect(t, iter))
		})
	}
}

func TestStorage_Write(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Set("stale", []byte("value")))

			b := new(Batch)
			b.Put("key-1", []byte("val-1"))
			b.Put("key-2", []byte("val-2"))
			b.Delete("stale")
			b.Put("key-1", []byte("val-1b"))
			require.Equal(t, 4, b.Len())
			require.NoError(t, st.Write(b))

			iter, err := st.Iterator()
			require.NoError(t, err)
			require.Equal(t, map[string]string{
				"key-1": "val-1b",
				"key-2": "val-2",
			}, collect(t, iter))
		})
	}
}

func TestStorage_IteratorWithRange(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a/1", "a/2", "ab/1", "b/1", "b/2"} {
				require.NoError(t, st.Set(k, []byte(k)))
			}

			start, limit := PrefixRange([]byte("a/"))
			iter, err := st.IteratorWithRange(start, limit)
			require.NoError(t, err)
			require.Equal(t, map[string]string{"a/1": "a/1", "a/2": "a/2"}, collect(t, iter))

			iter, err = st.IteratorWithRange([]byte("ab"), nil)
			require.NoError(t, err)
			require.Len(t, collect(t, iter), 3)

			iter, err = st.Iterator()
			require.NoError(t, err)
			defer iter.Release()
			require.True(t, iter.Seek([]byte("b")))
			require.Equal(t, []byte("b/1"), iter.Key())
		})
	}
}

func TestMemoryStorage_nilValue(t *testing.T) {
	st := NewMemory()
	require.Error(t, st.Set("nil-value", nil))

	b := new(Batch)
	b.Put("key", []byte("value"))
	b.Put("nil-value", nil)
	require.Error(t, st.Write(b))

	// nothing of the rejected batch was applied
	has, err := st.Has("key")
	require.NoError(t, err)
	require.False(t, has)
}

func TestLevelDBStorage_recovery(t *testing.T) {
	dir := t.TempDir()
	db, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)

	st, err := New(db)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, st.Set(fmt.Sprintf("key-%d", i), []byte("value")))
	}
	b := new(Batch)
	b.Put("key-batch", []byte("value"))
	require.NoError(t, st.Write(b))
	require.NoError(t, st.SetOffset(10))
	require.NoError(t, st.MarkRecovered())
	require.NoError(t, st.Close())

	db, err = leveldb.OpenFile(dir, nil)
	require.NoError(t, err)
	st, err = New(db)
	require.NoError(t, err)
	defer st.Close()

	offset, err := st.GetOffset(0)
	require.NoError(t, err)
	require.Equal(t, uint64(10), offset)

	iter, err := st.Iterator()
	require.NoError(t, err)
	require.Len(t, collect(t, iter), 11)
}

func TestBuilders(t *testing.T) {
	st, err := DefaultBuilder(t.TempDir())("groups", 3)
	require.NoError(t, err)
	require.NoError(t, st.Set("key", []byte("value")))
	require.NoError(t, st.Close())

	st, err = MemoryBuilder()("groups", 3)
	require.NoError(t, err)
	require.IsType(t, &memory{}, st)
}
