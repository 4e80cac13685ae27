package codec

import (
	"testing"

	"github.com/lovoo/projector/record"
	"github.com/stretchr/testify/require"
)

func TestUint64(t *testing.T) {
	c := new(Uint64)
	data, err := c.Encode(uint64(18446744073709551615))
	require.NoError(t, err)
	require.Equal(t, "18446744073709551615", string(data))

	value, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), value)

	_, err = c.Encode(int64(1))
	require.Error(t, err)
	_, err = c.Decode([]byte("-1"))
	require.Error(t, err)
}

func TestRecord(t *testing.T) {
	c := new(Record)
	rec := record.Must(7, 1, record.KindGroup, record.IntentCreated, &record.GroupValue{GroupKey: 1, Name: "group"})

	data, err := c.Encode(rec)
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)
	got := decoded.(*record.Record)
	require.Equal(t, rec.Position, got.Position)
	require.Equal(t, rec.Kind, got.Kind)
	require.JSONEq(t, string(rec.Value), string(got.Value))

	_, err = c.Decode([]byte("{"))
	require.Error(t, err)
	_, err = c.Encode("no record")
	require.Error(t, err)
}
