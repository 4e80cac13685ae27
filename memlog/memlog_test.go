package memlog

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lovoo/projector/record"
)

func rec(partition uint32, position uint64) *record.Record {
	r := record.Must(position, position, record.KindGroup, record.IntentCreated, nil)
	r.Partition = partition
	return r
}

func TestLog_Next(t *testing.T) {
	ctx := context.Background()
	l := New()

	next, err := l.Next(ctx, 0, 0)
	require.NoError(t, err)
	require.Nil(t, next)

	l.Append(rec(0, 3), rec(0, 1), rec(1, 7), rec(0, 2), rec(0, 1))
	require.Equal(t, 3, l.Len(0))
	require.Equal(t, 1, l.Len(1))
	require.Equal(t, 0, l.Len(2))

	for after, want := range map[uint64]uint64{0: 1, 1: 2, 2: 3} {
		next, err := l.Next(ctx, 0, after)
		require.NoError(t, err)
		require.Equal(t, want, next.Position)
	}
	next, err = l.Next(ctx, 0, 3)
	require.NoError(t, err)
	require.Nil(t, next)

	next, err = l.Next(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(7), next.Position)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.Next(canceled, 0, 0)
	require.Error(t, err)
}

func TestLog_Subscribe(t *testing.T) {
	l := New()
	var calls int32
	cancel := l.Subscribe(0, func() { atomic.AddInt32(&calls, 1) })

	l.Append(rec(0, 1), rec(0, 2))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	l.Append(rec(1, 1))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	cancel()
	l.Append(rec(0, 3))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLog_Load(t *testing.T) {
	l := New()
	input := `{"position":2,"key":1,"valueType":"GROUP","intent":"UPDATED","partitionId":0,"value":{"groupKey":1,"name":"h"}}

{"position":1,"key":1,"valueType":"GROUP","intent":"CREATED","partitionId":0,"value":{"groupKey":1,"name":"g"}}
`
	require.NoError(t, l.Load(strings.NewReader(input)))
	require.Equal(t, 2, l.Len(0))

	first, err := l.Next(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, record.IntentCreated, first.Intent)

	var value record.GroupValue
	require.NoError(t, first.Decode(&value))
	require.Equal(t, "g", value.Name)

	err = l.Load(strings.NewReader("{\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")
}

func TestLog_Seal(t *testing.T) {
	ctx := context.Background()
	l := New()
	l.Append(rec(0, 1), rec(0, 3))
	require.False(t, l.Sequenced(0))

	l.Seal()
	require.True(t, l.Sequenced(0))
	require.True(t, l.Sequenced(1))

	l.Append(rec(0, 2))
	require.Equal(t, 2, l.Len(0))
	next, err := l.Next(ctx, 0, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), next.Position)
}
