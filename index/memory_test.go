package index

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_BatchWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	results, err := m.BatchWrite(ctx, []Operation{
		{Type: OpInsert, Index: "list-view", ID: "1", Fields: map[string]interface{}{"processName": "", "processVersion": 0}},
		{Type: OpUpdate, Index: "list-view", ID: "1", Fields: map[string]interface{}{"processName": "Invoice"}},
		{Type: OpUpdate, Index: "list-view", ID: "2", Fields: map[string]interface{}{"processName": "Invoice"}},
		{Type: OpDelete, Index: "list-view", ID: "3"},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.NoError(t, results[0])
	require.NoError(t, results[1])
	require.True(t, errors.Is(results[2], ErrDocumentMissing))
	require.NoError(t, results[3])

	doc, ok := m.Get("list-view", "1")
	require.True(t, ok)
	require.Equal(t, "Invoice", doc.Fields["processName"])
	require.Equal(t, json.Number("0"), doc.Fields["processVersion"])

	_, ok = m.Get("list-view", "2")
	require.False(t, ok)
	require.Equal(t, 1, m.Batches())
}

func TestMemory_Query(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetManualRefresh(true)

	_, err := m.BatchWrite(ctx, []Operation{
		{Type: OpInsert, Index: "list-view", ID: "b", Fields: map[string]interface{}{"processDefinitionKey": 99, "processVersion": 0}},
		{Type: OpInsert, Index: "list-view", ID: "a", Fields: map[string]interface{}{"processDefinitionKey": 99, "processVersion": 0}},
		{Type: OpInsert, Index: "list-view", ID: "c", Fields: map[string]interface{}{"processDefinitionKey": 99, "processVersion": 3}},
	})
	require.NoError(t, err)

	pred := Predicate{"processDefinitionKey": uint64(99), "processVersion": 0}
	ids, err := m.Query(ctx, "list-view", pred)
	require.NoError(t, err)
	require.Empty(t, ids)

	m.Refresh()
	ids, err = m.Query(ctx, "list-view", pred)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	ids, err = m.Query(ctx, "other", pred)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestMemory_Failures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	m.FailBatches(boom)
	_, err := m.BatchWrite(ctx, []Operation{{Type: OpInsert, Index: "i", ID: "1"}})
	require.Equal(t, boom, err)
	_, ok := m.Get("i", "1")
	require.False(t, ok)

	m.FailOperations("i", "1", boom)
	results, err := m.BatchWrite(ctx, []Operation{
		{Type: OpInsert, Index: "i", ID: "1"},
		{Type: OpInsert, Index: "i", ID: "2"},
	})
	require.NoError(t, err)
	require.Equal(t, boom, results[0])
	require.NoError(t, results[1])

	results, err = m.BatchWrite(ctx, []Operation{{Type: OpInsert, Index: "i", ID: "1"}})
	require.NoError(t, err)
	require.NoError(t, results[0])
	require.Len(t, m.Documents("i"), 2)
}

func TestMemory_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().BatchWrite(ctx, nil)
	require.True(t, errors.Is(err, context.Canceled))
}

// Keys above 2^53 are not representable as float64.
func TestMemory_LargeKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := uint64(1) << 54

	_, err := m.BatchWrite(ctx, []Operation{
		{Type: OpInsert, Index: "list-view", ID: "a", Fields: map[string]interface{}{"processDefinitionKey": key, "processVersion": 0}},
		{Type: OpInsert, Index: "list-view", ID: "b", Fields: map[string]interface{}{"processDefinitionKey": key + 1, "processVersion": 0}},
		{Type: OpUpdate, Index: "list-view", ID: "b", Fields: map[string]interface{}{"processName": "Invoice"}},
	})
	require.NoError(t, err)

	ids, err := m.Query(ctx, "list-view", Predicate{"processDefinitionKey": key + 1, "processVersion": 0})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)

	ids, err = m.Query(ctx, "list-view", Predicate{"processDefinitionKey": key})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)

	doc, ok := m.Get("list-view", "b")
	require.True(t, ok)
	require.Equal(t, json.Number("18014398509481985"), doc.Fields["processDefinitionKey"])
}

func TestNormalize(t *testing.T) {
	fields, err := Normalize(map[string]interface{}{
		"int":    3,
		"uint":   uint64(3),
		"float":  3.0,
		"large":  uint64(1)<<54 + 1,
		"string": "x",
	})
	require.NoError(t, err)
	require.Equal(t, fields["int"], fields["uint"])
	require.Equal(t, fields["int"], fields["float"])
	require.Equal(t, json.Number("18014398509481985"), fields["large"])
	require.Equal(t, "x", fields["string"])

	fields, err = Normalize(nil)
	require.NoError(t, err)
	require.Empty(t, fields)
}
