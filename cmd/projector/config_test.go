package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadConfig(t *testing.T) {
	t.Run("kafka", func(t *testing.T) {
		conf, err := readConfig(writeConfig(t, `
name: engine
kafka:
  brokers: [localhost:9092]
  topic: zeebe
storage:
  backend: redis
  redis: localhost:6379
  namespace: engine
index:
  sqlite: /tmp/index.db
projector:
  maxRetries: 2
  gapTimeout: 1s
`))
		require.NoError(t, err)
		require.Equal(t, "engine", conf.Name)
		require.Equal(t, []string{"localhost:9092"}, conf.Kafka.Brokers)
		require.Equal(t, "zeebe", conf.Kafka.Topic)
		require.Equal(t, backendRedis, conf.Storage.Backend)
		require.Equal(t, "/tmp/index.db", conf.Index.SQLite)
		require.Equal(t, 2, conf.Projector.MaxRetries)
		require.Equal(t, time.Second, conf.Projector.GapTimeout)

		// defaults are kept
		require.Equal(t, ":9095", conf.HTTP.Addr)
		require.Equal(t, defaultConfig().Projector.BackoffMax, conf.Projector.BackoffMax)
	})

	t.Run("records", func(t *testing.T) {
		conf, err := readConfig(writeConfig(t, `
kafka:
  records: records.jsonl
  partitions: [0, 1]
storage:
  backend: memory
`))
		require.NoError(t, err)
		require.Equal(t, []uint32{0, 1}, conf.Kafka.Partitions)
		require.Equal(t, backendMemory, conf.Storage.Backend)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := readConfig(writeConfig(t, `
kafka:
  records: records.jsonl
storage:
  backend: bolt
projector:
  maxRetries: -1
`))
		require.Error(t, err)
		require.Contains(t, err.Error(), "kafka.partitions")
		require.Contains(t, err.Error(), "unknown storage.backend")
		require.Contains(t, err.Error(), "maxRetries")
	})

	t.Run("missing brokers", func(t *testing.T) {
		_, err := readConfig(writeConfig(t, "name: engine\n"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "kafka.brokers")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := readConfig(writeConfig(t, "kafka: [\n"))
		require.Error(t, err)
	})
}

func TestStorageBuilder(t *testing.T) {
	conf := defaultConfig()
	conf.Storage.Backend = backendMemory

	var toClose closers
	builder, err := storageBuilder(conf, &toClose)
	require.NoError(t, err)
	st, err := builder("test", 0)
	require.NoError(t, err)
	require.NoError(t, st.Set("key", []byte("value")))
	require.Empty(t, toClose)

	conf.Storage.Backend = "bolt"
	_, err = storageBuilder(conf, &toClose)
	require.Error(t, err)
}
