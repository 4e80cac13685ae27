package rules

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-stack/stack"

	"github.com/lovoo/projector/record"
)

// matches frames of this package but not of its subpackages, with or without
// module version
var rulesPackageRegex = regexp.MustCompile(fmt.Sprintf(`%s(?:@[^/]+)?/[^/]+$`, regexp.QuoteMeta(reflect.TypeOf(Registry{}).PkgPath())))

// MalformedRecordError is returned for records a rule cannot apply, either
// because the value cannot be decoded or because the rule panicked.
type MalformedRecordError struct {
	Record *record.Record
	Err    error
	// Stack is the stack trace of a panicking rule.
	Stack []string
}

func (e *MalformedRecordError) Error() string {
	msg := fmt.Sprintf("malformed record %s: %v", e.Record, e.Err)
	if len(e.Stack) > 0 {
		msg += "\n" + strings.Join(e.Stack, "\n")
	}
	return msg
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// IsMalformed returns whether err is caused by a malformed record.
func IsMalformed(err error) bool {
	var mre *MalformedRecordError
	return errors.As(err, &mre)
}

// decode decodes the value of rec into v.
func decode(rec *record.Record, v interface{}) error {
	if err := rec.Decode(v); err != nil {
		return &MalformedRecordError{Record: rec, Err: err}
	}
	return nil
}

// userStacktrace returns the stack trace of a panic without the frames of the
// runtime and the registry.
func userStacktrace() []string {
	trace := stack.Trace()

	// pop runtime and registry frames from the top
	for len(trace) > 0 {
		frame := fmt.Sprintf("%+s", trace[0])
		if strings.HasPrefix(frame, "runtime/") || rulesPackageRegex.MatchString(frame) {
			trace = trace[1:]
			continue
		}
		break
	}

	var lines []string
	for _, frame := range trace {
		// stop at the registry, the frames below belong to the driver
		if rulesPackageRegex.MatchString(fmt.Sprintf("%+s", frame)) {
			break
		}
		lines = append(lines, fmt.Sprintf("%n\n\t%+s:%d", frame, frame, frame))
	}

	// the panic happened within a rule of this package
	if len(lines) == 0 {
		for _, frame := range stack.Trace() {
			lines = append(lines, fmt.Sprintf("%n\n\t%+s:%d", frame, frame, frame))
		}
	}
	return lines
}
