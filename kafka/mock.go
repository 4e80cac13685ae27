package kafka

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Shopify/sarama"
)

var (
	errOutOfExpectations           = errors.New("error out of expectations")
	errPartitionConsumerNotStarted = errors.New("error partition consumer not started")
)

// ErrorReporter is the part of *testing.T the mocks report to.
type ErrorReporter interface {
	Errorf(string, ...interface{})
}

// MockConsumer implements sarama's Consumer interface for tests. Partitions
// have to be registered with ExpectConsumePartition before they can be
// consumed.
type MockConsumer struct {
	l                  sync.Mutex
	t                  ErrorReporter
	config             *sarama.Config
	partitionConsumers map[string]map[int32]*MockPartitionConsumer
}

// NewMockConsumer returns a new mock consumer reporting violated expectations
// to t. config may be nil.
func NewMockConsumer(t ErrorReporter, config *sarama.Config) *MockConsumer {
	if config == nil {
		config = DefaultConfig()
	}
	return &MockConsumer{
		t:                  t,
		config:             config,
		partitionConsumers: make(map[string]map[int32]*MockPartitionConsumer),
	}
}

// ConsumePartition returns the registered partition consumer. A partition can
// only be consumed once.
func (c *MockConsumer) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	c.l.Lock()
	defer c.l.Unlock()

	pc := c.partitionConsumers[topic][partition]
	if pc == nil {
		c.t.Errorf("No expectations set for %s/%d", topic, partition)
		return nil, errOutOfExpectations
	}
	if pc.consumed {
		return nil, sarama.ConfigurationError("The topic/partition is already being consumed")
	}
	if pc.offset != offset {
		c.t.Errorf("Unexpected offset when calling ConsumePartition for %s/%d. Expected %d, got %d.", topic, partition, pc.offset, offset)
	}

	pc.consumed = true
	return pc, nil
}

// Topics returns the topics with registered partitions.
func (c *MockConsumer) Topics() ([]string, error) {
	c.l.Lock()
	defer c.l.Unlock()
	topics := make([]string, 0, len(c.partitionConsumers))
	for topic := range c.partitionConsumers {
		topics = append(topics, topic)
	}
	return topics, nil
}

// Partitions returns the registered partitions of topic.
func (c *MockConsumer) Partitions(topic string) ([]int32, error) {
	c.l.Lock()
	defer c.l.Unlock()
	if c.partitionConsumers[topic] == nil {
		return nil, sarama.ErrUnknownTopicOrPartition
	}
	partitions := make([]int32, 0, len(c.partitionConsumers[topic]))
	for partition := range c.partitionConsumers[topic] {
		partitions = append(partitions, partition)
	}
	return partitions, nil
}

// HighWaterMarks returns the high watermarks of all registered partitions.
func (c *MockConsumer) HighWaterMarks() map[string]map[int32]int64 {
	c.l.Lock()
	defer c.l.Unlock()

	hwms := make(map[string]map[int32]int64, len(c.partitionConsumers))
	for topic, partitionConsumers := range c.partitionConsumers {
		hwm := make(map[int32]int64, len(partitionConsumers))
		for partition, pc := range partitionConsumers {
			hwm[partition] = pc.HighWaterMarkOffset()
		}
		hwms[topic] = hwm
	}
	return hwms
}

// Close closes all registered partition consumers.
func (c *MockConsumer) Close() error {
	c.l.Lock()
	defer c.l.Unlock()

	for _, partitions := range c.partitionConsumers {
		for _, pc := range partitions {
			pc.Close()
		}
	}
	return nil
}

func (c *MockConsumer) Pause(topicPartitions map[string][]int32)  {}
func (c *MockConsumer) Resume(topicPartitions map[string][]int32) {}
func (c *MockConsumer) PauseAll()                                 {}
func (c *MockConsumer) ResumeAll()                                {}

// ExpectConsumePartition registers partition of topic to be consumed from
// offset. Messages yielded by the returned consumer continue at offset, or at
// 0 for sarama.OffsetOldest.
func (c *MockConsumer) ExpectConsumePartition(topic string, partition int32, offset int64) *MockPartitionConsumer {
	c.l.Lock()
	defer c.l.Unlock()

	if c.partitionConsumers[topic] == nil {
		c.partitionConsumers[topic] = make(map[int32]*MockPartitionConsumer)
	}
	if c.partitionConsumers[topic][partition] == nil {
		var hwm int64
		if offset > 0 {
			hwm = offset
		}
		c.partitionConsumers[topic][partition] = &MockPartitionConsumer{
			highWaterMarkOffset: hwm,
			t:                   c.t,
			topic:               topic,
			partition:           partition,
			offset:              offset,
			messages:            make(chan *sarama.ConsumerMessage, c.config.ChannelBufferSize),
			errors:              make(chan *sarama.ConsumerError, c.config.ChannelBufferSize),
		}
	}
	return c.partitionConsumers[topic][partition]
}

// MockPartitionConsumer implements sarama's PartitionConsumer interface for
// tests. It is returned by MockConsumer.ConsumePartition.
type MockPartitionConsumer struct {
	highWaterMarkOffset int64 // must be at the top of the struct because https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	l                   sync.Mutex
	t                   ErrorReporter
	topic               string
	partition           int32
	offset              int64
	messages            chan *sarama.ConsumerMessage
	errors              chan *sarama.ConsumerError
	singleClose         sync.Once
	consumed            bool
}

// AsyncClose closes the channels of the consumer.
func (pc *MockPartitionConsumer) AsyncClose() {
	pc.singleClose.Do(func() {
		close(pc.messages)
		close(pc.errors)
	})
}

// Close closes the consumer and drains its channels. It reports an error if
// the consumer was never started.
func (pc *MockPartitionConsumer) Close() error {
	var err error
	pc.singleClose.Do(func() {
		if !pc.consumed {
			pc.t.Errorf("Expectations set on %s/%d, but no partition consumer was started.", pc.topic, pc.partition)
			err = errPartitionConsumerNotStarted
			return
		}
		close(pc.messages)
		close(pc.errors)

		for range pc.messages {
		}
		var errs sarama.ConsumerErrors
		for cerr := range pc.errors {
			errs = append(errs, cerr)
		}
		if len(errs) > 0 {
			err = errs
		}
	})
	return err
}

// Errors returns the errors channel.
func (pc *MockPartitionConsumer) Errors() <-chan *sarama.ConsumerError {
	return pc.errors
}

// Messages returns the messages channel.
func (pc *MockPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return pc.messages
}

// HighWaterMarkOffset returns the offset of the next yielded message.
func (pc *MockPartitionConsumer) HighWaterMarkOffset() int64 {
	return atomic.LoadInt64(&pc.highWaterMarkOffset)
}

func (pc *MockPartitionConsumer) Pause()         {}
func (pc *MockPartitionConsumer) Resume()        {}
func (pc *MockPartitionConsumer) IsPaused() bool { return false }

// YieldMessage yields value as the message at the next offset.
func (pc *MockPartitionConsumer) YieldMessage(value []byte) {
	pc.l.Lock()
	defer pc.l.Unlock()

	pc.messages <- &sarama.ConsumerMessage{
		Topic:     pc.topic,
		Partition: pc.partition,
		Offset:    atomic.AddInt64(&pc.highWaterMarkOffset, 1) - 1,
		Value:     value,
	}
}

// SkipOffsets leaves n offsets without a message, like transaction markers
// or compacted messages do.
func (pc *MockPartitionConsumer) SkipOffsets(n int64) {
	atomic.AddInt64(&pc.highWaterMarkOffset, n)
}

// YieldError yields err on the errors channel.
func (pc *MockPartitionConsumer) YieldError(err error) {
	pc.errors <- &sarama.ConsumerError{
		Topic:     pc.topic,
		Partition: pc.partition,
		Err:       err,
	}
}
