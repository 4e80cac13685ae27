//go:generate mockgen -package mock -destination mock/storage.go github.com/lovoo/projector/storage Storage
//go:generate mockgen -package mock -destination mock/index.go github.com/lovoo/projector/index Store

/*
Package projector turns ordered streams of domain records into keyed entity
state and denormalized documents of an external index store.

# Drivers

A driver projects one partition of the record log. It fetches the record
following the last applied position, applies the matching rule against the
partition's keyed entity store and hands the resulting document writes to the
batch writer. The store mutations of the record are committed only after the
index store accepted all writes, then the position is checkpointed. Records
are applied strictly in position order; a driver waits for missing positions,
position 1 of a fresh partition included, instead of skipping them. Sources
that deliver a partition in position order, like Kafka with its offset holes,
implement SequencedSource and are never waited on.

Failures of single document writes are retried with backoff, refreshing the
written fields from the store before every attempt. A record that cannot be
applied halts its partition and leaves the store and the checkpoint at the
previous record.

# Projector

A projector runs one driver per partition. Partitions share nothing but the
index store, a halted partition never stops the others.

Since a crash may happen between committing the store and saving the
checkpoint, records may be applied twice. Rules are therefore idempotent: they
detect records already reflected by the store and only repeat their document
writes, which do not change documents that are already written.
*/
package projector
