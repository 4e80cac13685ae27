package batch

import (
	"context"
	"fmt"

	"github.com/lovoo/projector/index"
)

// Writer submits intents to an index store. It never retries.
type Writer struct {
	store  index.Store
	maxOps int
}

// NewWriter creates a writer sending at most maxOperations operations per
// request. A non-positive value selects DefaultMaxOperations.
func NewWriter(store index.Store, maxOperations int) *Writer {
	if maxOperations <= 0 {
		maxOperations = DefaultMaxOperations
	}
	return &Writer{store: store, maxOps: maxOperations}
}

// Submit writes intents in order. Larger lists are split into several
// requests whose results are merged, so indices in the outcome always refer to
// intents.
func (w *Writer) Submit(ctx context.Context, intents []Intent) Outcome {
	failed := make(map[int]error)
	for start := 0; start < len(intents); start += w.maxOps {
		end := start + w.maxOps
		if end > len(intents) {
			end = len(intents)
		}

		ops := make([]index.Operation, 0, end-start)
		for _, intent := range intents[start:end] {
			ops = append(ops, intent.Op)
		}

		results, err := w.store.BatchWrite(ctx, ops)
		if err != nil {
			return Outcome{Status: Fatal, Cause: err}
		}
		if len(results) != len(ops) {
			return Outcome{
				Status: Fatal,
				Cause:  fmt.Errorf("index store returned %d results for %d operations", len(results), len(ops)),
			}
		}
		for i, res := range results {
			if res != nil {
				failed[start+i] = res
			}
		}
	}

	if len(failed) > 0 {
		return Outcome{Status: PartiallyFailed, Failed: failed}
	}
	return Outcome{Status: Accepted}
}
