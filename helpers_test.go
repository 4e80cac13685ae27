package projector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lovoo/projector/index"
	"github.com/lovoo/projector/logger"
	"github.com/lovoo/projector/memlog"
	"github.com/lovoo/projector/record"
	"github.com/lovoo/projector/storage"
)

const invoiceDiagram = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <bpmn:process id="invoice" name="Invoice" isExecutable="true"/>
</bpmn:definitions>`

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.BackoffStep = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	cfg.StatsInterval = 0
	return cfg
}

func groupRecord(position uint64, intent record.Intent, value *record.GroupValue) *record.Record {
	return record.Must(position, value.GroupKey, record.KindGroup, intent, value)
}

func deploymentRecord(position, key uint64, version int) *record.Record {
	return record.Must(position, 1000+key, record.KindDeployment, record.IntentCreated, &record.DeploymentValue{
		Resources: []record.Resource{{Name: "invoice.bpmn", Type: record.ResourceTypeBpmnXML, Content: []byte(invoiceDiagram)}},
		ProcessesMetadata: []record.ProcessMetadata{{
			ProcessDefinitionKey: key,
			BpmnProcessID:        "invoice",
			Version:              version,
			ResourceName:         "invoice.bpmn",
		}},
	})
}

func instanceRecord(position, key, definition uint64) *record.Record {
	return record.Must(position, key, record.KindProcessInstance, record.IntentCreated, &record.ProcessInstanceValue{
		ProcessDefinitionKey: definition,
		BpmnProcessID:        "invoice",
	})
}

// onPartition moves records to partition.
func onPartition(partition uint32, recs ...*record.Record) []*record.Record {
	for _, rec := range recs {
		rec.Partition = partition
	}
	return recs
}

type driverTester struct {
	t      *testing.T
	log    *memlog.Log
	index  *index.Memory
	st     storage.Storage
	driver *Driver

	cancel func()
	done   chan error
}

func newDriverTester(t *testing.T, cfg Config, opts ...Option) *driverTester {
	dt := &driverTester{
		t:     t,
		log:   memlog.New(),
		index: index.NewMemory(),
		st:    storage.NewMemory(),
	}
	dt.driver = dt.newDriver(dt.index, cfg, opts...)
	return dt
}

func (dt *driverTester) newDriver(idx index.Store, cfg Config, opts ...Option) *Driver {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	d, err := NewDriver(0, dt.log, dt.st, idx, cfg, opts...)
	require.NoError(dt.t, err)
	return d
}

func (dt *driverTester) start() {
	ctx, cancel := context.WithCancel(context.Background())
	dt.cancel = cancel
	dt.done = make(chan error, 1)
	go func() {
		dt.done <- dt.driver.Run(ctx)
	}()
}

// stop cancels the driver and returns its result.
func (dt *driverTester) stop() error {
	dt.cancel()
	return dt.wait()
}

// wait returns the result of the driver once it returned by itself.
func (dt *driverTester) wait() error {
	select {
	case err := <-dt.done:
		return err
	case <-time.After(10 * time.Second):
		dt.t.Fatalf("driver did not stop")
		return nil
	}
}

func (dt *driverTester) waitApplied(position uint64) {
	dt.t.Helper()
	require.Eventually(dt.t, func() bool {
		return dt.driver.Stats().LastApplied >= position
	}, 10*time.Second, time.Millisecond, "position %d not applied", position)
}

func (dt *driverTester) doc(indexName, id string) map[string]interface{} {
	dt.t.Helper()
	doc, ok := dt.index.Get(indexName, id)
	require.True(dt.t, ok, "document %s/%s missing", indexName, id)
	return doc.Fields
}

// recordingStore records the number of operations of every batch.
type recordingStore struct {
	index.Store
	m     sync.Mutex
	sizes []int
}

func (s *recordingStore) BatchWrite(ctx context.Context, ops []index.Operation) ([]error, error) {
	s.m.Lock()
	s.sizes = append(s.sizes, len(ops))
	s.m.Unlock()
	return s.Store.BatchWrite(ctx, ops)
}

func (s *recordingStore) batches() []int {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]int(nil), s.sizes...)
}

// blockingStore blocks every batch until it is released.
type blockingStore struct {
	index.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) BatchWrite(ctx context.Context, ops []index.Operation) ([]error, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.BatchWrite(ctx, ops)
}
