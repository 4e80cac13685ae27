package projector

import (
	"errors"
	"fmt"

	"github.com/lovoo/projector/rules"
	"github.com/lovoo/projector/state"
)

var (
	errNilSource = errors.New("source must not be nil")
	errNilIndex  = errors.New("index store must not be nil")
	errNilStore  = errors.New("storage must not be nil")
)

// HaltError is returned by a driver that stopped because a record could not
// be applied. The store and the checkpoint of the partition remain at the
// record before Position.
type HaltError struct {
	Partition uint32
	Position  uint64
	Err       error
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("partition %d halted at position %d: %v", e.Partition, e.Position, e.Err)
}

func (e *HaltError) Unwrap() error {
	return e.Err
}

// IsHalt returns whether err is caused by a halted partition.
func IsHalt(err error) bool {
	var he *HaltError
	return errors.As(err, &he)
}

// permanent returns whether applying a record failed in a way retrying cannot
// fix.
func permanent(err error) bool {
	return errors.Is(err, state.ErrDuplicateKey) ||
		errors.Is(err, state.ErrNotFound) ||
		rules.IsMalformed(err)
}
