// Package codec contains the codecs used to encode values into the local
// storage and to decode records read from the log.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lovoo/projector/record"
)

// Codec decodes and encodes from and to []byte
type Codec interface {
	Encode(value interface{}) (data []byte, err error)
	Decode(data []byte) (value interface{}, err error)
}

// Uint64 encodes keys and positions as decimal strings.
type Uint64 struct{}

// Encode encodes from uint64 to []byte
func (c *Uint64) Encode(value interface{}) ([]byte, error) {
	intVal, isInt := value.(uint64)
	if !isInt {
		return nil, fmt.Errorf("Uint64: value to encode is not of type uint64 but %T", value)
	}
	return []byte(strconv.FormatUint(intVal, 10)), nil
}

// Decode decodes from []byte to uint64
func (c *Uint64) Decode(data []byte) (interface{}, error) {
	intVal, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return uint64(0), fmt.Errorf("Error parsing data from string %q: %v", string(data), err)
	}
	return intVal, nil
}

// Record encodes records as JSON, the format records are exported to the log.
type Record struct{}

// Encode encodes a *record.Record.
func (c *Record) Encode(value interface{}) ([]byte, error) {
	rec, isRecord := value.(*record.Record)
	if !isRecord {
		return nil, fmt.Errorf("Record: value to encode is not of type *record.Record but %T", value)
	}
	return json.Marshal(rec)
}

// Decode decodes into a *record.Record.
func (c *Record) Decode(data []byte) (interface{}, error) {
	rec := new(record.Record)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("error decoding record: %v", err)
	}
	return rec, nil
}
