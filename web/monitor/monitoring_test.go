package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/lovoo/projector"
	"github.com/lovoo/projector/logger"
)

type statsFunc func() *projector.ProjectorStats

func (f statsFunc) Stats() *projector.ProjectorStats {
	return f()
}

func newTestServer(t *testing.T, stats *projector.ProjectorStats) *httptest.Server {
	router := mux.NewRouter()
	srv := NewServer("/monitor", router, WithLogger(logger.Discard()))
	srv.AttachProjector("records", statsFunc(func() *projector.ProjectorStats { return stats }))

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string, v interface{}) int {
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_Stats(t *testing.T) {
	ts := newTestServer(t, &projector.ProjectorStats{Partitions: map[uint32]*projector.PartitionStats{
		0: {Partition: 0, State: "idle", LastApplied: 12, Applied: 12},
		1: {Partition: 1, State: "writing", LastApplied: 3, Retries: 2},
	}})

	var index map[string][]string
	require.Equal(t, http.StatusOK, get(t, ts, "/monitor/", &index))
	require.Equal(t, []string{"records"}, index["projectors"])

	var all projector.ProjectorStats
	require.Equal(t, http.StatusOK, get(t, ts, "/monitor/projector/records", &all))
	require.Len(t, all.Partitions, 2)
	require.Equal(t, uint64(2), all.Partitions[1].Retries)

	var partition projector.PartitionStats
	require.Equal(t, http.StatusOK, get(t, ts, "/monitor/projector/records/0", &partition))
	require.Equal(t, uint64(12), partition.LastApplied)

	require.Equal(t, http.StatusNotFound, get(t, ts, "/monitor/projector/records/7", nil))
	require.Equal(t, http.StatusNotFound, get(t, ts, "/monitor/projector/other", nil))

	var health map[string]interface{}
	require.Equal(t, http.StatusOK, get(t, ts, "/monitor/health", &health))
	require.Equal(t, "ok", health["status"])
}

func TestServer_Halted(t *testing.T) {
	ts := newTestServer(t, &projector.ProjectorStats{Partitions: map[uint32]*projector.PartitionStats{
		0: {Partition: 0, State: "idle"},
		1: {Partition: 1, State: "halted", Halted: true, HaltError: "partition 1 halted at position 4: entity not found"},
	}})

	var health struct {
		Status string                       `json:"status"`
		Halted map[string]map[string]string `json:"halted"`
	}
	require.Equal(t, http.StatusServiceUnavailable, get(t, ts, "/monitor/health", &health))
	require.Equal(t, "halted", health.Status)
	require.Equal(t, "partition 1 halted at position 4: entity not found", health.Halted["records"]["1"])
}
