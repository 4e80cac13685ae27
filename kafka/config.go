package kafka

import (
	"time"

	"github.com/Shopify/sarama"
)

const (
	// size of the sarama buffers of the partition consumers
	defaultChannelBufferSize = 256

	// time a message may wait in the channel buffer before the partition
	// consumer pauses fetching
	defaultMaxProcessingTime = 1 * time.Second

	defaultClientID = "projector"
)

// DefaultConfig returns the sarama configuration used by NewSource.
// Partitions without a checkpoint are consumed from the oldest offset.
func DefaultConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_0_0_0
	config.ClientID = defaultClientID
	config.ChannelBufferSize = defaultChannelBufferSize

	config.Consumer.Return.Errors = true
	config.Consumer.MaxProcessingTime = defaultMaxProcessingTime
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	return config
}
