package storage

type batchOp int

const (
	opPut batchOp = iota
	opDelete
)

type batchEntry struct {
	op    batchOp
	key   string
	value []byte
}

// Batch collects writes that are applied atomically by Storage.Write.
type Batch struct {
	entries []batchEntry
}

// Put adds a write of key to the batch.
func (b *Batch) Put(key string, value []byte) {
	b.entries = append(b.entries, batchEntry{op: opPut, key: key, value: value})
}

// Delete adds a deletion of key to the batch.
func (b *Batch) Delete(key string) {
	b.entries = append(b.entries, batchEntry{op: opDelete, key: key})
}

// Len returns the number of operations in the batch.
func (b *Batch) Len() int {
	return len(b.entries)
}

// Reset removes all operations from the batch.
func (b *Batch) Reset() {
	b.entries = b.entries[:0]
}

// Replay calls put or del for every operation in the order they were added.
func (b *Batch) Replay(put func(key string, value []byte) error, del func(key string) error) error {
	for _, e := range b.entries {
		var err error
		switch e.op {
		case opPut:
			err = put(e.key, e.value)
		case opDelete:
			err = del(e.key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
