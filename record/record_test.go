package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecord_Decode(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		rec := Must(4, 1, KindGroup, IntentCreated, &GroupValue{GroupKey: 1, Name: "group"})

		var value GroupValue
		require.NoError(t, rec.Decode(&value))
		require.Equal(t, uint64(1), value.GroupKey)
		require.Equal(t, "group", value.Name)
	})
	t.Run("missing", func(t *testing.T) {
		rec := Must(4, 1, KindGroup, IntentCreated, nil)

		var value GroupValue
		err := rec.Decode(&value)
		require.Error(t, err)
		require.Contains(t, err.Error(), "has no value")
	})
	t.Run("malformed", func(t *testing.T) {
		rec := &Record{Position: 4, Kind: KindGroup, Intent: IntentCreated, Value: []byte(`{"groupKey": "x"}`)}

		var value GroupValue
		err := rec.Decode(&value)
		require.Error(t, err)
		require.Contains(t, err.Error(), "GROUP/CREATED")
	})
}

func TestRecord_String(t *testing.T) {
	rec := &Record{Position: 12, Key: 3, Kind: KindDeployment, Intent: IntentCreated, Partition: 2}
	require.Equal(t, "DEPLOYMENT/CREATED (partition=2, position=12, key=3)", rec.String())
}
