// Package batch submits the document write intents of a record to the index
// store and classifies the result.
package batch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lovoo/projector/index"
)

// DefaultMaxOperations is the default number of operations per request.
const DefaultMaxOperations = 500

// RefreshFunc returns the current fields of a document before it is retried.
type RefreshFunc func() (map[string]interface{}, error)

// Intent is a single document write.
type Intent struct {
	Op index.Operation
	// Tolerant intents target documents written by earlier records that may
	// have been deleted since. A failure because the document is missing is
	// ignored.
	Tolerant bool
	// Refresh is called before the intent is retried. It may be nil.
	Refresh RefreshFunc
}

// Insert creates or replaces doc.
func Insert(doc index.Document) Intent {
	return Intent{Op: index.Operation{
		Type:   index.OpInsert,
		Index:  doc.Index,
		ID:     doc.ID,
		Fields: doc.Fields,
	}}
}

// UpdateFields merges fields into the existing document id of index.
func UpdateFields(indexName, id string, fields map[string]interface{}) Intent {
	return Intent{Op: index.Operation{
		Type:   index.OpUpdate,
		Index:  indexName,
		ID:     id,
		Fields: fields,
	}}
}

// Delete removes document id of index.
func Delete(indexName, id string) Intent {
	return Intent{Op: index.Operation{
		Type:  index.OpDelete,
		Index: indexName,
		ID:    id,
	}}
}

// Tolerate marks the intent as tolerant.
func (i Intent) Tolerate() Intent {
	i.Tolerant = true
	return i
}

// WithRefresh sets the refresh hook of the intent.
func (i Intent) WithRefresh(fn RefreshFunc) Intent {
	i.Refresh = fn
	return i
}

// Refreshed returns the intent with the fields returned by its refresh hook.
func (i Intent) Refreshed() (Intent, error) {
	if i.Refresh == nil {
		return i, nil
	}
	fields, err := i.Refresh()
	if err != nil {
		return i, fmt.Errorf("error refreshing %s: %w", i.Op, err)
	}
	i.Op.Fields = fields
	return i, nil
}

func (i Intent) String() string {
	return i.Op.String()
}

// Status classifies the outcome of a submit.
type Status int

const (
	// Accepted means every intent was applied.
	Accepted Status = iota
	// PartiallyFailed means some intents failed, the others were applied.
	PartiallyFailed
	// Fatal means the batch could not be submitted and no result is known.
	Fatal
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case PartiallyFailed:
		return "partially failed"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of a submit.
type Outcome struct {
	Status Status
	// Failed maps the indices of failed intents to their errors. It is set
	// for PartiallyFailed.
	Failed map[int]error
	// Cause is set for Fatal.
	Cause error
}

// FailedIndices returns the indices of the failed intents in ascending order.
func (o Outcome) FailedIndices() []int {
	indices := make([]int, 0, len(o.Failed))
	for i := range o.Failed {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

func (o Outcome) Error() string {
	switch o.Status {
	case Accepted:
		return "accepted"
	case Fatal:
		return fmt.Sprintf("batch failed: %v", o.Cause)
	}
	var msgs []string
	for _, i := range o.FailedIndices() {
		msgs = append(msgs, fmt.Sprintf("%d: %v", i, o.Failed[i]))
	}
	return fmt.Sprintf("%d operations failed: %s", len(o.Failed), strings.Join(msgs, "; "))
}

// Unwrap returns the cause of a fatal outcome or the errors of the failed
// operations.
func (o Outcome) Unwrap() []error {
	if o.Status == Fatal {
		return []error{o.Cause}
	}
	errs := make([]error, 0, len(o.Failed))
	for _, i := range o.FailedIndices() {
		errs = append(errs, o.Failed[i])
	}
	return errs
}

// Err returns nil for accepted outcomes and the outcome otherwise.
func (o Outcome) Err() error {
	if o.Status == Accepted {
		return nil
	}
	return o
}
