// Package memlog implements an in-memory record log. Records may be appended
// in any order; every partition keeps them sorted by position. Once all
// records are appended the log can be sealed, after which missing positions
// are holes instead of records still to come.
package memlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/lovoo/projector/codec"
	"github.com/lovoo/projector/record"
)

type partition struct {
	records []*record.Record
	subs    map[int]func()
}

// Log is an in-memory record log. It is safe for concurrent use.
type Log struct {
	m          sync.Mutex
	partitions map[uint32]*partition
	nextSub    int
	sealed     bool
}

// New creates an empty log.
func New() *Log {
	return &Log{partitions: make(map[uint32]*partition)}
}

func (l *Log) partition(id uint32) *partition {
	p, ok := l.partitions[id]
	if !ok {
		p = &partition{subs: make(map[int]func())}
		l.partitions[id] = p
	}
	return p
}

// Append adds records to the partitions they name. A record whose position
// already exists in its partition is dropped, as are all records appended to
// a sealed log.
func (l *Log) Append(recs ...*record.Record) {
	var notify []func()

	l.m.Lock()
	if l.sealed {
		l.m.Unlock()
		return
	}
	touched := make(map[uint32]bool)
	for _, rec := range recs {
		p := l.partition(rec.Partition)
		idx := sort.Search(len(p.records), func(i int) bool {
			return p.records[i].Position >= rec.Position
		})
		if idx < len(p.records) && p.records[idx].Position == rec.Position {
			continue
		}
		p.records = append(p.records, nil)
		copy(p.records[idx+1:], p.records[idx:])
		p.records[idx] = rec
		touched[rec.Partition] = true
	}
	for id := range touched {
		for _, fn := range l.partitions[id].subs {
			notify = append(notify, fn)
		}
	}
	l.m.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// Load appends the records of r, one JSON encoded record per line.
func (l *Log) Load(r io.Reader) error {
	var (
		c       codec.Record
		scanner = bufio.NewScanner(r)
		recs    []*record.Record
		line    int
	)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		value, err := c.Decode(scanner.Bytes())
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, value.(*record.Record))
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	l.Append(recs...)
	return nil
}

// Next returns the record of partition with the lowest position greater than
// after, or nil.
func (l *Log) Next(ctx context.Context, partition uint32, after uint64) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.m.Lock()
	defer l.m.Unlock()

	p, ok := l.partitions[partition]
	if !ok {
		return nil, nil
	}
	idx := sort.Search(len(p.records), func(i int) bool {
		return p.records[i].Position > after
	})
	if idx == len(p.records) {
		return nil, nil
	}
	return p.records[idx], nil
}

// Seal completes the log. Later appends are dropped.
func (l *Log) Seal() {
	l.m.Lock()
	defer l.m.Unlock()
	l.sealed = true
}

// Sequenced reports whether the log is sealed. The records of a sealed log
// are all known, so the next record of a partition is never preceded by a
// later one.
func (l *Log) Sequenced(partition uint32) bool {
	l.m.Lock()
	defer l.m.Unlock()
	return l.sealed
}

// Subscribe registers notify for appends to partition.
func (l *Log) Subscribe(partition uint32, notify func()) func() {
	l.m.Lock()
	defer l.m.Unlock()
	id := l.nextSub
	l.nextSub++
	l.partition(partition).subs[id] = notify

	return func() {
		l.m.Lock()
		defer l.m.Unlock()
		delete(l.partitions[partition].subs, id)
	}
}

// Len returns the number of records of partition.
func (l *Log) Len(partition uint32) int {
	l.m.Lock()
	defer l.m.Unlock()
	if p, ok := l.partitions[partition]; ok {
		return len(p.records)
	}
	return 0
}
