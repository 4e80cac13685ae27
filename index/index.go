// Package index defines the external index store that receives the derived
// documents of the projector.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDocumentMissing is reported for an update of a document that does not
// exist in the index.
var ErrDocumentMissing = errors.New("document missing")

// Document is a denormalized document of an index.
type Document struct {
	ID     string                 `json:"id"`
	Index  string                 `json:"index"`
	Fields map[string]interface{} `json:"fields"`
}

// OpType is the type of a write operation.
type OpType int

const (
	// OpInsert creates a document or replaces an existing one.
	OpInsert OpType = iota
	// OpUpdate merges fields into an existing document.
	OpUpdate
	// OpDelete removes a document. Deleting a missing document succeeds.
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("optype(%d)", int(t))
	}
}

// Operation is a single operation of a batch write.
type Operation struct {
	Type   OpType
	Index  string
	ID     string
	Fields map[string]interface{}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s/%s", o.Type, o.Index, o.ID)
}

// Predicate matches documents whose fields equal all given values.
type Predicate map[string]interface{}

// Store is an external index store.
type Store interface {
	// BatchWrite submits ops in a single request. The returned slice holds the
	// result of every operation at the same index, nil for succeeded ones. A
	// non-nil error means the request as a whole failed and no result is
	// known.
	BatchWrite(ctx context.Context, ops []Operation) ([]error, error)
	// Query returns the ids of the documents of index matching p, sorted.
	Query(ctx context.Context, index string, p Predicate) ([]string, error)
}

// Normalize converts fields into their JSON representation. Numbers become
// json.Number, so integer keys beyond 2^53 stay exact. Stores use it so that
// stored fields and predicates compare independent of the Go types used to
// write them.
func Normalize(fields map[string]interface{}) (map[string]interface{}, error) {
	if fields == nil {
		return map[string]interface{}{}, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("error encoding fields: %w", err)
	}
	return DecodeFields(data)
}

// DecodeFields decodes a JSON object of document fields, keeping numbers as
// json.Number.
func DecodeFields(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("error decoding fields: %w", err)
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return fields, nil
}
