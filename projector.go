package projector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lovoo/projector/index"
	"github.com/lovoo/projector/logger"
	"github.com/lovoo/projector/multierr"
	"github.com/lovoo/projector/state"
	"github.com/lovoo/projector/storage"
)

// Projector runs the drivers of a set of partitions.
type Projector struct {
	partitions []uint32
	cfg        Config
	source     Source
	index      index.Store
	opts       *options
	log        logger.Logger

	m       sync.RWMutex
	drivers map[uint32]*Driver
}

// New creates a projector of partitions.
func New(partitions []uint32, source Source, idx index.Store, cfg Config, opts ...Option) (*Projector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if source == nil {
		return nil, errNilSource
	}
	if idx == nil {
		return nil, errNilIndex
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("no partitions to project")
	}

	seen := make(map[uint32]bool, len(partitions))
	for _, p := range partitions {
		if seen[p] {
			return nil, fmt.Errorf("duplicate partition %d", p)
		}
		seen[p] = true
	}
	sorted := append([]uint32(nil), partitions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	o := newOptions(cfg, opts...)
	return &Projector{
		partitions: sorted,
		cfg:        cfg,
		source:     source,
		index:      idx,
		opts:       o,
		log:        o.log.Prefix(fmt.Sprintf("Projector %s", o.name)),
		drivers:    make(map[uint32]*Driver),
	}, nil
}

// Partitions returns the partitions of the projector in ascending order.
func (p *Projector) Partitions() []uint32 {
	return append([]uint32(nil), p.partitions...)
}

// Run starts a driver for every partition and blocks until all of them
// stopped. Halted partitions do not stop the others; their errors are
// returned together once ctx is canceled or every partition halted.
func (p *Projector) Run(ctx context.Context) (rerr error) {
	p.log.Printf("starting %d partitions", len(p.partitions))
	defer p.log.Printf("stopped")

	storages := make(map[uint32]storage.Storage, len(p.partitions))
	defer func() {
		errs := new(multierr.Errors).Collect(rerr)
		for partition, st := range storages {
			if err := st.Close(); err != nil {
				errs.Collect(fmt.Errorf("error closing storage of partition %d: %w", partition, err))
			}
		}
		rerr = errs.ErrorOrNil()
	}()

	for _, partition := range p.partitions {
		st, err := p.opts.builders.storage(p.opts.name, partition)
		if err != nil {
			return fmt.Errorf("error building storage of partition %d: %w", partition, err)
		}
		storages[partition] = st
		if err := st.Open(); err != nil {
			return fmt.Errorf("error opening storage of partition %d: %w", partition, err)
		}
		if err := st.MarkRecovered(); err != nil {
			return fmt.Errorf("error marking storage of partition %d recovered: %w", partition, err)
		}

		driver, err := NewDriver(partition, p.source, st, p.index, p.cfg, p.driverOptions()...)
		if err != nil {
			return fmt.Errorf("error creating driver of partition %d: %w", partition, err)
		}
		p.m.Lock()
		p.drivers[partition] = driver
		p.m.Unlock()
	}

	var (
		halts   = new(multierr.Errors)
		errg, _ = multierr.NewErrGroup(ctx)
	)
	for _, partition := range p.partitions {
		driver := p.driver(partition)
		errg.Go(func() error {
			err := driver.Run(ctx)
			if IsHalt(err) {
				halts.Collect(err)
				return nil
			}
			return err
		})
	}

	if p.cfg.StatsInterval > 0 {
		statsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go p.logStats(statsCtx)
	}

	errs := errg.Wait()
	errs.Collect(halts.ErrorOrNil())
	return errs.ErrorOrNil()
}

func (p *Projector) driverOptions() []Option {
	opts := []Option{
		WithLogger(p.log),
		WithName(p.opts.name),
		WithRegistry(p.opts.registry),
		WithBackoffBuilder(p.opts.builders.backoff),
	}
	if p.opts.checkpointer != nil {
		opts = append(opts, WithCheckpointer(p.opts.checkpointer))
	}
	return opts
}

func (p *Projector) driver(partition uint32) *Driver {
	p.m.RLock()
	defer p.m.RUnlock()
	return p.drivers[partition]
}

func (p *Projector) logStats(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range p.Stats().Partitions {
				p.log.Printf("partition %d: %s, last applied %d, applied %d, retries %d",
					s.Partition, s.State, s.LastApplied, s.Applied, s.Retries)
			}
		}
	}
}

// Stats returns the statistics of all started partitions.
func (p *Projector) Stats() *ProjectorStats {
	p.m.RLock()
	defer p.m.RUnlock()
	stats := &ProjectorStats{Partitions: make(map[uint32]*PartitionStats, len(p.drivers))}
	for partition, driver := range p.drivers {
		stats.Partitions[partition] = driver.Stats()
	}
	return stats
}

// Reader returns the committed state of table ns of partition.
func (p *Projector) Reader(partition uint32, ns string) (state.Reader, error) {
	driver := p.driver(partition)
	if driver == nil {
		return nil, fmt.Errorf("partition %d is not running", partition)
	}
	return driver.Reader(ns), nil
}
