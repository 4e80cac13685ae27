package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lovoo/projector/index"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(" ")
	require.Error(t, err)
}

func TestStore_BatchWrite(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	results, err := store.BatchWrite(ctx, []index.Operation{
		{Type: index.OpInsert, Index: "list-view", ID: "1", Fields: map[string]interface{}{"processName": "", "processVersion": 0, "state": "ACTIVE"}},
		{Type: index.OpUpdate, Index: "list-view", ID: "1", Fields: map[string]interface{}{"processName": "Invoice", "processVersion": 3}},
		{Type: index.OpUpdate, Index: "list-view", ID: "2", Fields: map[string]interface{}{"processName": "Invoice"}},
		{Type: index.OpInsert, Index: "list-view", ID: "3"},
		{Type: index.OpDelete, Index: "list-view", ID: "3"},
		{Type: index.OpDelete, Index: "list-view", ID: "4"},
	})
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, res := range results {
		if i == 2 {
			require.True(t, errors.Is(res, index.ErrDocumentMissing))
			continue
		}
		require.NoError(t, res, "operation %d", i)
	}

	doc, ok, err := store.Get(ctx, "list-view", "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Invoice", doc.Fields["processName"])
	require.Equal(t, json.Number("3"), doc.Fields["processVersion"])
	require.Equal(t, "ACTIVE", doc.Fields["state"])

	_, ok, err = store.Get(ctx, "list-view", "3")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_Query(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.BatchWrite(ctx, []index.Operation{
		{Type: index.OpInsert, Index: "list-view", ID: "b", Fields: map[string]interface{}{"processDefinitionKey": uint64(99), "processVersion": 0}},
		{Type: index.OpInsert, Index: "list-view", ID: "a", Fields: map[string]interface{}{"processDefinitionKey": uint64(99), "processVersion": 0}},
		{Type: index.OpInsert, Index: "list-view", ID: "c", Fields: map[string]interface{}{"processDefinitionKey": uint64(99), "processVersion": 3}},
		{Type: index.OpInsert, Index: "process", ID: "d", Fields: map[string]interface{}{"processDefinitionKey": uint64(99), "processVersion": 0}},
		{Type: index.OpInsert, Index: "list-view", ID: "e", Fields: map[string]interface{}{"processDefinitionKey": uint64(98), "processVersion": 0, "processName": "x"}},
	})
	require.NoError(t, err)

	ids, err := store.Query(ctx, "list-view", index.Predicate{"processDefinitionKey": 99, "processVersion": 0})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	ids, err = store.Query(ctx, "list-view", index.Predicate{"processName": "x"})
	require.NoError(t, err)
	require.Equal(t, []string{"e"}, ids)

	ids, err = store.Query(ctx, "list-view", index.Predicate{"processName": "y"})
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = store.Query(ctx, "list-view", index.Predicate{"name') OR 1=1 --": 1})
	require.Error(t, err)
}

// Keys above 2^53 are not representable as float64.
func TestStore_LargeKeys(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	key := uint64(1) << 54

	results, err := store.BatchWrite(ctx, []index.Operation{
		{Type: index.OpInsert, Index: "list-view", ID: "a", Fields: map[string]interface{}{"processDefinitionKey": key, "processVersion": 0}},
		{Type: index.OpInsert, Index: "list-view", ID: "b", Fields: map[string]interface{}{"processDefinitionKey": key + 1, "processVersion": 0}},
		{Type: index.OpUpdate, Index: "list-view", ID: "b", Fields: map[string]interface{}{"processName": "Invoice"}},
	})
	require.NoError(t, err)
	require.Equal(t, []error{nil, nil, nil}, results)

	ids, err := store.Query(ctx, "list-view", index.Predicate{"processDefinitionKey": key + 1, "processVersion": 0})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)

	ids, err = store.Query(ctx, "list-view", index.Predicate{"processDefinitionKey": key})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)

	// the update kept the key exact
	doc, ok, err := store.Get(ctx, "list-view", "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, json.Number("18014398509481985"), doc.Fields["processDefinitionKey"])
	require.Equal(t, "Invoice", doc.Fields["processName"])
}
