package rules

import (
	"strconv"
	"time"
)

// Names of the tables of the keyed entity store.
const (
	GroupTable           = "group"
	ProcessTable         = "process"
	ProcessInstanceTable = "process-instance"
)

// Names of the indexes of the derived documents.
const (
	GroupIndex       = "group"
	GroupMemberIndex = "group-member"
	ProcessIndex     = "process"
	ListViewIndex    = "list-view"
)

// Fields of list-view documents.
const (
	FieldProcessDefinitionKey = "processDefinitionKey"
	FieldProcessName          = "processName"
	FieldProcessVersion       = "processVersion"
	FieldBpmnProcessID        = "bpmnProcessId"
	FieldState                = "state"
	FieldStartDate            = "startDate"
	FieldEndDate              = "endDate"
)

// States of process instances in list-view documents.
const (
	StateActive    = "ACTIVE"
	StateCompleted = "COMPLETED"
	StateCanceled  = "CANCELED"
)

// DocID returns the document id of an entity key.
func DocID(key uint64) string {
	return strconv.FormatUint(key, 10)
}

// MemberDocID returns the id of the document of a group membership.
func MemberDocID(groupKey, entityKey uint64) string {
	return DocID(groupKey) + "-" + DocID(entityKey)
}

// timestamp formats t for documents. Zero times are left out.
func timestamp(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// replayed reports whether the record at position is already reflected by an
// entity last mutated at entityPosition.
func replayed(entityPosition, position uint64) bool {
	return entityPosition >= position
}
