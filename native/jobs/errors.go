package jobs

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure returned by the engine matches exactly one of
// these through errors.Is.
var (
	ErrInvalidTerms   = errors.New("invalid terms")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("job not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrTransferFailed = errors.New("transfer failed")
	ErrOverflow       = errors.New("arithmetic overflow")
)

var errNilState = errors.New("jobs engine: state not configured")

// Error describes a failed engine call: the operation, the job it targeted,
// the offending field when one applies, and the error kind.
type Error struct {
	Op    string
	JobID uint64
	Field string
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("jobs: ")
	b.WriteString(e.Op)
	if e.JobID != 0 {
		fmt.Fprintf(&b, " job %d", e.JobID)
	}
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("failed")
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(op string, id uint64, kind error, field string, cause error) *Error {
	return &Error{Op: op, JobID: id, Field: field, Kind: kind, Err: cause}
}

// KindOf returns the error kind carried by err, or nil when err did not
// originate from the engine.
func KindOf(err error) error {
	for _, kind := range []error{ErrInvalidTerms, ErrUnauthorized, ErrNotFound, ErrInvalidState, ErrTransferFailed, ErrOverflow} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// FieldOf returns the offending field recorded on an engine error.
func FieldOf(err error) string {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Field
	}
	return ""
}
