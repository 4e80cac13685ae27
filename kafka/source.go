// Package kafka reads the records of the projector from a Kafka topic.
//
// Every partition of the topic is a record log partition. The position of a
// record is its offset plus one, so the position 0 stays free for partitions
// nothing was applied to. Offsets taken by transaction markers or removed by
// compaction leave holes in the positions. A partition is consumed in offset
// order, so the source is sequenced and holes are never waited on.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Shopify/sarama"

	"github.com/lovoo/projector/codec"
	"github.com/lovoo/projector/logger"
	"github.com/lovoo/projector/record"
	"github.com/lovoo/projector/rules"
)

const defaultMaxBuffered = 1024

var errClosed = errors.New("source is closed")

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger of the source.
func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		s.log = l
	}
}

// WithMaxBuffered limits the records buffered per partition. Consuming a
// partition pauses while its buffer is full.
func WithMaxBuffered(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.maxBuffered = n
		}
	}
}

// Source consumes the partitions of a topic on demand. A partition is
// consumed from the first position requested by Next.
type Source struct {
	topic    string
	client   sarama.Client
	consumer sarama.Consumer
	codec    codec.Record

	log         logger.Logger
	maxBuffered int

	m          sync.Mutex
	partitions map[uint32]*partition
	nextSub    int
	closed     bool

	dying chan struct{}
	wg    sync.WaitGroup
}

type entry struct {
	position uint64
	rec      *record.Record
	err      error
}

type partition struct {
	id      uint32
	pc      sarama.PartitionConsumer
	entries []entry
	err     error
	subs    map[int]func()
	space   chan struct{}
}

// NewSource connects to brokers and creates a source for topic.
func NewSource(brokers []string, topic string, config *sarama.Config, opts ...Option) (*Source, error) {
	if config == nil {
		config = DefaultConfig()
	}
	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to kafka: %v", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("cannot create consumer: %v", err)
	}
	s := NewSourceFromConsumer(consumer, topic, opts...)
	s.client = client
	return s, nil
}

// NewSourceFromConsumer creates a source for topic on an existing consumer.
// Close closes the consumer.
func NewSourceFromConsumer(consumer sarama.Consumer, topic string, opts ...Option) *Source {
	s := &Source{
		topic:       topic,
		consumer:    consumer,
		log:         logger.Default(),
		maxBuffered: defaultMaxBuffered,
		partitions:  make(map[uint32]*partition),
		dying:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Prefix(fmt.Sprintf("Source %s", topic))
	return s
}

func (s *Source) partition(id uint32) *partition {
	p, ok := s.partitions[id]
	if !ok {
		p = &partition{
			id:    id,
			subs:  make(map[int]func()),
			space: make(chan struct{}, 1),
		}
		s.partitions[id] = p
	}
	return p
}

// Next returns the buffered record of partition with the lowest position
// greater than after, or nil. The first call of a partition starts consuming
// it at the offset of position after+1. A message that is not a record is
// returned with a *rules.MalformedRecordError.
func (s *Source) Next(ctx context.Context, partition uint32, after uint64) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return nil, errClosed
	}

	p := s.partition(partition)
	if p.pc == nil {
		if err := s.consume(p, after); err != nil {
			return nil, err
		}
	}
	if p.err != nil {
		err := p.err
		p.err = nil
		return nil, err
	}

	dropped := false
	for len(p.entries) > 0 && p.entries[0].position <= after {
		p.entries = p.entries[1:]
		dropped = true
	}
	if dropped {
		select {
		case p.space <- struct{}{}:
		default:
		}
	}
	if len(p.entries) == 0 {
		return nil, nil
	}
	return p.entries[0].rec, p.entries[0].err
}

// Sequenced reports true, partitions are consumed in offset order.
func (s *Source) Sequenced(partition uint32) bool {
	return true
}

// Subscribe registers notify for new records of partition.
func (s *Source) Subscribe(partition uint32, notify func()) func() {
	s.m.Lock()
	defer s.m.Unlock()
	id := s.nextSub
	s.nextSub++
	s.partition(partition).subs[id] = notify

	return func() {
		s.m.Lock()
		defer s.m.Unlock()
		delete(s.partitions[partition].subs, id)
	}
}

// consume starts the partition consumer of p. s.m must be held.
func (s *Source) consume(p *partition, after uint64) error {
	offset := sarama.OffsetOldest
	if after > 0 {
		offset = int64(after)
	}
	pc, err := s.consumer.ConsumePartition(s.topic, int32(p.id), offset)
	if err != nil {
		return fmt.Errorf("error consuming %s/%d from offset %d: %v", s.topic, p.id, offset, err)
	}
	s.log.Debugf("consuming partition %d from offset %d", p.id, offset)
	p.pc = pc

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(p, pc)
	}()
	return nil
}

func (s *Source) run(p *partition, pc sarama.PartitionConsumer) {
	var (
		msgs = pc.Messages()
		errs = pc.Errors()
	)
	for msgs != nil || errs != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				// keep draining the errors
				msgs = nil
				continue
			}
			if !s.push(p, s.entry(m)) {
				return
			}
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.Printf("error consuming partition %d: %v", p.id, cerr.Err)
			s.m.Lock()
			p.err = fmt.Errorf("error consuming %s/%d: %w", s.topic, p.id, cerr.Err)
			s.m.Unlock()
			s.notify(p)
		case <-s.dying:
			return
		}
	}
}

// entry decodes m. Messages that are not records become malformed records
// that halt the partition.
func (s *Source) entry(m *sarama.ConsumerMessage) entry {
	position := uint64(m.Offset) + 1
	value, err := s.codec.Decode(m.Value)
	if err != nil {
		rec := &record.Record{Position: position, Partition: uint32(m.Partition), Timestamp: m.Timestamp}
		return entry{
			position: position,
			rec:      rec,
			err:      &rules.MalformedRecordError{Record: rec, Err: err},
		}
	}

	rec := value.(*record.Record)
	rec.Position = position
	rec.Partition = uint32(m.Partition)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.Timestamp
	}
	return entry{position: position, rec: rec}
}

// push appends e to the entries of p, waiting while the buffer is full. It
// returns false if the source was closed.
func (s *Source) push(p *partition, e entry) bool {
	for {
		s.m.Lock()
		if len(p.entries) < s.maxBuffered {
			p.entries = append(p.entries, e)
			s.m.Unlock()
			s.notify(p)
			return true
		}
		s.m.Unlock()

		select {
		case <-p.space:
		case <-s.dying:
			return false
		}
	}
}

func (s *Source) notify(p *partition) {
	s.m.Lock()
	subs := make([]func(), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	s.m.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Partitions returns the partitions of the topic.
func (s *Source) Partitions() ([]uint32, error) {
	partitions, err := s.consumer.Partitions(s.topic)
	if err != nil {
		return nil, fmt.Errorf("error reading partitions of %s: %v", s.topic, err)
	}
	ids := make([]uint32, 0, len(partitions))
	for _, p := range partitions {
		ids = append(ids, uint32(p))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Buffered returns the number of buffered records of partition.
func (s *Source) Buffered(partition uint32) int {
	s.m.Lock()
	defer s.m.Unlock()
	if p, ok := s.partitions[partition]; ok {
		return len(p.entries)
	}
	return 0
}

// Close stops consuming and closes the consumer and the client.
func (s *Source) Close() error {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return nil
	}
	s.closed = true
	close(s.dying)
	for _, p := range s.partitions {
		if p.pc != nil {
			p.pc.AsyncClose()
		}
	}
	s.m.Unlock()

	// wait until all partition consumers have finished
	s.wg.Wait()

	if err := s.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close consumer: %v", err)
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("failed to close client: %v", err)
		}
	}
	return nil
}
