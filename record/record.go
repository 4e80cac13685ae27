// Package record contains the domain records consumed by the projector.
//
// A record is one immutable event of a log partition. Records of a partition
// carry strictly increasing positions starting at 1; the projector applies
// them in that order.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the kind of entity a record is about.
type Kind string

// Intent is the state transition a record describes.
type Intent string

const (
	KindGroup           Kind = "GROUP"
	KindDeployment      Kind = "DEPLOYMENT"
	KindProcessInstance Kind = "PROCESS_INSTANCE"
)

const (
	IntentCreated       Intent = "CREATED"
	IntentUpdated       Intent = "UPDATED"
	IntentDeleted       Intent = "DELETED"
	IntentEntityAdded   Intent = "ENTITY_ADDED"
	IntentEntityRemoved Intent = "ENTITY_REMOVED"
	IntentCompleted     Intent = "COMPLETED"
	IntentCanceled      Intent = "CANCELED"
)

// Record is a single event of a log partition.
type Record struct {
	Position  uint64          `json:"position"`
	Key       uint64          `json:"key"`
	Kind      Kind            `json:"valueType"`
	Intent    Intent          `json:"intent"`
	Partition uint32          `json:"partitionId"`
	Timestamp time.Time       `json:"timestamp"`
	Value     json.RawMessage `json:"value,omitempty"`
}

func (r *Record) String() string {
	return fmt.Sprintf("%s/%s (partition=%d, position=%d, key=%d)", r.Kind, r.Intent, r.Partition, r.Position, r.Key)
}

// Decode unmarshals the record value into v.
func (r *Record) Decode(v interface{}) error {
	if len(r.Value) == 0 {
		return fmt.Errorf("record %s has no value", r)
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("error decoding value of %s: %w", r, err)
	}
	return nil
}

// New creates a record and encodes value as its payload.
func New(position, key uint64, kind Kind, intent Intent, value interface{}) (*Record, error) {
	rec := &Record{
		Position: position,
		Key:      key,
		Kind:     kind,
		Intent:   intent,
	}
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("error encoding value for %s/%s: %w", kind, intent, err)
		}
		rec.Value = data
	}
	return rec, nil
}

// Must is like New but panics on encoding errors. Use it only with values that
// are known to encode, e.g. in tests.
func Must(position, key uint64, kind Kind, intent Intent, value interface{}) *Record {
	rec, err := New(position, key, kind, intent, value)
	if err != nil {
		panic(err)
	}
	return rec
}
