package projector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lovoo/projector/batch"
	"github.com/lovoo/projector/index"
	"github.com/lovoo/projector/logger"
	"github.com/lovoo/projector/record"
	"github.com/lovoo/projector/rules"
	"github.com/lovoo/projector/state"
	"github.com/lovoo/projector/storage"
)

// Driver projects the records of one partition. A driver runs once; it is
// owned by a single goroutine, only Stats, State and Reader may be called
// concurrently.
type Driver struct {
	partition uint32
	cfg       Config
	log       logger.Logger

	source       Source
	store        *state.Store
	index        index.Store
	registry     *rules.Registry
	writer       *batch.Writer
	checkpointer Checkpointer
	backoff      Backoff

	state  *Signal
	notify chan struct{}

	m     sync.RWMutex
	stats *PartitionStats
}

// NewDriver creates the driver of partition. st is the partition's storage, it
// is not closed by the driver.
func NewDriver(partition uint32, source Source, st storage.Storage, idx index.Store, cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	switch {
	case source == nil:
		return nil, errNilSource
	case st == nil:
		return nil, errNilStore
	case idx == nil:
		return nil, errNilIndex
	}

	o := newOptions(cfg, opts...)
	backoff, err := o.builders.backoff()
	if err != nil {
		return nil, fmt.Errorf("error creating backoff: %w", err)
	}
	checkpointer := o.checkpointer
	if checkpointer == nil {
		checkpointer = NewStorageCheckpointer(st)
	}

	return &Driver{
		partition:    partition,
		cfg:          cfg,
		log:          o.log.Prefix(fmt.Sprintf("Driver (%d)", partition)),
		source:       source,
		store:        state.New(st),
		index:        idx,
		registry:     o.registry,
		writer:       batch.NewWriter(idx, cfg.BatchMaxOperations),
		checkpointer: checkpointer,
		backoff:      backoff,
		state:        NewSignal(StateIdle),
		notify:       make(chan struct{}, 1),
		stats:        &PartitionStats{Partition: partition, State: StateIdle.String()},
	}, nil
}

// Partition returns the partition of the driver.
func (d *Driver) Partition() uint32 {
	return d.partition
}

// StateReader returns the state of the driver.
func (d *Driver) StateReader() StateReader {
	return d.state
}

// Reader returns the committed state of table ns.
func (d *Driver) Reader(ns string) state.Reader {
	return d.store.Table(ns)
}

// Stats returns a copy of the driver statistics.
func (d *Driver) Stats() *PartitionStats {
	d.m.RLock()
	defer d.m.RUnlock()
	stats := d.stats.clone()
	stats.State = d.state.State().String()
	return stats
}

func (d *Driver) updateStats(fn func(s *PartitionStats)) {
	d.m.Lock()
	defer d.m.Unlock()
	fn(d.stats)
}

func (d *Driver) wakeup() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Run applies records until ctx is canceled or a record cannot be applied.
// It returns nil after cancellation and a *HaltError otherwise. A record
// whose writes are in flight is completed before Run returns.
func (d *Driver) Run(ctx context.Context) (rerr error) {
	d.log.Printf("starting")
	defer func() {
		if rerr != nil {
			d.state.SetState(StateHalted)
			d.log.Printf("halted: %v", rerr)
			return
		}
		d.state.SetState(StateStopped)
		d.log.Printf("stopped")
	}()

	last, err := d.checkpointer.Load(d.partition)
	if err != nil {
		return d.halt(last+1, err)
	}
	d.updateStats(func(s *PartitionStats) { s.LastApplied = last })
	d.log.Debugf("resuming after position %d", last)

	cancel := d.source.Subscribe(d.partition, d.wakeup)
	defer cancel()

	var gapSince time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		d.state.SetState(StateFetching)
		rec, err := d.source.Next(ctx, d.partition, last)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if permanent(err) {
				return d.halt(last+1, err)
			}
			d.log.Printf("error fetching record after position %d: %v", last, err)
			d.sleep(ctx, d.backoff.Duration())
			continue
		}
		if rec == nil {
			d.state.SetState(StateIdle)
			d.wait(ctx, 0)
			continue
		}

		switch {
		case rec.Position <= last:
			d.log.Debugf("skipping already applied record %s", rec)
			continue
		case rec.Position == last+1:
		case d.sequenced():
			d.log.Debugf("positions %d to %d do not exist, continuing at %d", last+1, rec.Position-1, rec.Position)
		default:
			// a fresh partition waits for position 1 as well
			if gapSince.IsZero() {
				gapSince = time.Now()
				d.log.Printf("waiting for position %d, next available is %d", last+1, rec.Position)
				d.updateStats(func(s *PartitionStats) { s.WaitingSince = gapSince })
			}
			if d.cfg.GapTimeout <= 0 || time.Since(gapSince) < d.cfg.GapTimeout {
				d.state.SetState(StateIdle)
				d.wait(ctx, d.cfg.GapTimeout-time.Since(gapSince))
				continue
			}
			d.log.Printf("gap timeout expired, continuing at position %d", rec.Position)
			d.updateStats(func(s *PartitionStats) { s.GapsSkipped++ })
		}
		if !gapSince.IsZero() {
			gapSince = time.Time{}
			d.updateStats(func(s *PartitionStats) { s.WaitingSince = time.Time{} })
		}

		if err := d.process(ctx, rec); err != nil {
			return err
		}
		last = rec.Position
	}
}

// sequenced reports whether the source delivers the partition in position
// order.
func (d *Driver) sequenced() bool {
	s, ok := d.source.(SequencedSource)
	return ok && s.Sequenced(d.partition)
}

// wait blocks until the source signals new records, ctx is done or timeout
// passed. A non-positive timeout waits without limit.
func (d *Driver) wait(ctx context.Context, timeout time.Duration) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-d.notify:
	case <-timer:
	case <-ctx.Done():
	}
}

// sleep waits for duration or until ctx is done.
func (d *Driver) sleep(ctx context.Context, duration time.Duration) {
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (d *Driver) halt(position uint64, err error) error {
	herr := &HaltError{Partition: d.partition, Position: position, Err: err}
	d.updateStats(func(s *PartitionStats) {
		s.Halted = true
		s.HaltError = herr.Error()
	})
	return herr
}

// process applies rec, writes its documents and commits it. Once the record is
// fetched it is completed independent of ctx.
func (d *Driver) process(ctx context.Context, rec *record.Record) error {
	bctx := context.WithoutCancel(ctx)
	d.backoff.Reset()

	var (
		txn     *state.Txn
		intents []batch.Intent
	)
	for attempt := 0; ; attempt++ {
		d.state.SetState(StateApplying)
		txn = d.store.Begin(rec.Position)
		var err error
		intents, err = d.registry.Apply(bctx, &rules.Env{Txn: txn, Index: d.index, Logger: d.log}, rec)
		if err == nil {
			break
		}
		txn.Discard()
		if permanent(err) || attempt >= d.cfg.MaxRetries {
			return d.halt(rec.Position, err)
		}
		d.log.Printf("error applying %s, retrying: %v", rec, err)
		d.updateStats(func(s *PartitionStats) { s.Retries++ })
		time.Sleep(d.backoff.Duration())
	}

	d.state.SetState(StateWriting)
	if err := d.write(bctx, rec, intents); err != nil {
		txn.Discard()
		return d.halt(rec.Position, err)
	}

	d.state.SetState(StateCommitting)
	if err := txn.Commit(); err != nil {
		return d.halt(rec.Position, err)
	}
	if err := d.checkpointer.Save(d.partition, rec.Position); err != nil {
		return d.halt(rec.Position, err)
	}

	now := time.Now()
	d.updateStats(func(s *PartitionStats) {
		s.LastApplied = rec.Position
		s.LastAppliedAt = now
		s.Applied++
		s.Writes += uint64(len(intents))
		if !rec.Timestamp.IsZero() {
			s.Delay = now.Sub(rec.Timestamp)
		}
	})
	return nil
}

// write submits intents until all of them are accepted. Failed writes are
// retried with backoff, only the failed ones unless the whole request failed.
func (d *Driver) write(ctx context.Context, rec *record.Record, intents []batch.Intent) error {
	pending := intents
	for attempt := 0; ; attempt++ {
		out := d.writer.Submit(ctx, pending)

		switch out.Status {
		case batch.Accepted:
			return nil
		case batch.PartiallyFailed:
			var failed []batch.Intent
			for _, i := range out.FailedIndices() {
				if pending[i].Tolerant && errors.Is(out.Failed[i], index.ErrDocumentMissing) {
					d.log.Debugf("ignoring vanished document of %s: %s", rec, pending[i])
					d.updateStats(func(s *PartitionStats) { s.Ignored++ })
					continue
				}
				failed = append(failed, pending[i])
			}
			if len(failed) == 0 {
				return nil
			}
			pending = failed
		}

		if attempt >= d.cfg.MaxRetries {
			return fmt.Errorf("giving up writing documents of %s after %d retries: %w", rec, d.cfg.MaxRetries, out.Err())
		}
		d.log.Printf("writing documents of %s %s, retrying %d writes: %v", rec, out.Status, len(pending), out.Err())
		d.updateStats(func(s *PartitionStats) { s.Retries++ })
		time.Sleep(d.backoff.Duration())

		refreshed := make([]batch.Intent, len(pending))
		for i, intent := range pending {
			r, err := intent.Refreshed()
			if err != nil {
				return err
			}
			refreshed[i] = r
		}
		pending = refreshed
	}
}
