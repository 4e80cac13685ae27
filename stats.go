package projector

import "time"

// PartitionStats are the statistics of a driver.
type PartitionStats struct {
	Partition uint32 `json:"partition"`
	State     string `json:"state"`

	// LastApplied is the position of the last committed record.
	LastApplied   uint64    `json:"lastApplied"`
	LastAppliedAt time.Time `json:"lastAppliedAt"`
	// Delay is the time between the timestamp of the last record and its
	// commit.
	Delay time.Duration `json:"delay"`

	Applied      uint64    `json:"applied"`
	Writes       uint64    `json:"writes"`
	Retries      uint64    `json:"retries"`
	Ignored      uint64    `json:"ignored"`
	GapsSkipped  uint64    `json:"gapsSkipped"`
	WaitingSince time.Time `json:"waitingSince,omitempty"`

	Halted    bool   `json:"halted"`
	HaltError string `json:"haltError,omitempty"`
}

// ProjectorStats are the statistics of all partitions of a projector.
type ProjectorStats struct {
	Partitions map[uint32]*PartitionStats `json:"partitions"`
}

func (s *PartitionStats) clone() *PartitionStats {
	cp := *s
	return &cp
}
