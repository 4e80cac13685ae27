package projector

import (
	"context"

	"github.com/lovoo/projector/record"
)

// Source is the record log of the projector.
type Source interface {
	// Next returns the record of partition with the lowest position greater
	// than after, or nil if there is none yet. It must not block waiting for
	// new records.
	Next(ctx context.Context, partition uint32, after uint64) (*record.Record, error)
	// Subscribe registers notify to be called whenever new records of
	// partition become available. notify must not block. The returned
	// function removes the subscription.
	Subscribe(partition uint32, notify func()) (cancel func())
}

// SequencedSource is a Source that makes the records of a partition available
// in position order. A record it returns is never preceded by a record that
// shows up later, so missing positions are holes that are never filled, e.g.
// Kafka offsets taken by transaction markers or removed by compaction. The
// driver does not wait for missing positions of sequenced partitions.
type SequencedSource interface {
	Source
	// Sequenced reports whether partition is sequenced.
	Sequenced(partition uint32) bool
}
