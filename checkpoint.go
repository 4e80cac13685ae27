package projector

import (
	"fmt"
	"sync"

	"github.com/lovoo/projector/storage"
)

// Checkpointer persists the last applied position of partitions. Positions
// are saved only after the store of the record is committed.
type Checkpointer interface {
	// Load returns the last applied position of partition, 0 if nothing was
	// applied yet.
	Load(partition uint32) (uint64, error)
	// Save stores the last applied position of partition.
	Save(partition uint32, position uint64) error
}

// StorageCheckpointer keeps the position as the offset of the partition's
// storage.
type StorageCheckpointer struct {
	st storage.Storage
}

// NewStorageCheckpointer creates a checkpointer on st. It only serves the
// partition st belongs to.
func NewStorageCheckpointer(st storage.Storage) *StorageCheckpointer {
	return &StorageCheckpointer{st: st}
}

// Load returns the storage offset.
func (c *StorageCheckpointer) Load(partition uint32) (uint64, error) {
	pos, err := c.st.GetOffset(0)
	if err != nil {
		return 0, fmt.Errorf("error loading checkpoint of partition %d: %w", partition, err)
	}
	return pos, nil
}

// Save sets the storage offset.
func (c *StorageCheckpointer) Save(partition uint32, position uint64) error {
	if err := c.st.SetOffset(position); err != nil {
		return fmt.Errorf("error saving checkpoint %d of partition %d: %w", position, partition, err)
	}
	return nil
}

// MemoryCheckpointer keeps positions in memory.
type MemoryCheckpointer struct {
	m         sync.Mutex
	positions map[uint32]uint64
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{positions: make(map[uint32]uint64)}
}

// Load returns the saved position.
func (c *MemoryCheckpointer) Load(partition uint32) (uint64, error) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.positions[partition], nil
}

// Save stores the position.
func (c *MemoryCheckpointer) Save(partition uint32, position uint64) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.positions[partition] = position
	return nil
}
