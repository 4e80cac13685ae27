package multierr

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Errors collects the errors of concurrently running drivers. Normally the
// first error of a goroutine stops it, but during shutdown more errors may
// occur. Errors is safe for concurrent use.
type Errors struct {
	m   sync.Mutex
	err *multierror.Error
}

// Collect adds err to the collected errors. nil errors are ignored.
func (e *Errors) Collect(err error) *Errors {
	if err == nil {
		return e
	}
	e.m.Lock()
	defer e.m.Unlock()
	e.err = multierror.Append(e.err, err)
	return e
}

// HasErrors returns whether at least one error was collected.
func (e *Errors) HasErrors() bool {
	e.m.Lock()
	defer e.m.Unlock()
	return e.err != nil && len(e.err.Errors) > 0
}

// Len returns the number of collected errors.
func (e *Errors) Len() int {
	e.m.Lock()
	defer e.m.Unlock()
	if e.err == nil {
		return 0
	}
	return len(e.err.Errors)
}

// ErrorOrNil returns the collected errors as one error or nil if there were
// none.
func (e *Errors) ErrorOrNil() error {
	e.m.Lock()
	defer e.m.Unlock()
	return e.err.ErrorOrNil()
}
