package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// InternalError is the error type carried through the engine. It wraps an
// optional cause, a developer-facing message, a user-facing hint and
// structured details safe to report to API consumers.
type InternalError struct {
	cause             error
	message           string
	hint              string
	reportableDetails map[string]interface{}
	mark              error
}

// NewError starts building an error from a message
func NewError(message string) *InternalError {
	return &InternalError{message: message}
}

// NewErrorf starts building an error from a formatted message
func NewErrorf(format string, args ...interface{}) *InternalError {
	return &InternalError{message: fmt.Sprintf(format, args...)}
}

// WithError starts building an error that wraps an existing cause
func WithError(err error) *InternalError {
	return &InternalError{cause: err}
}

// WithHint attaches a user-facing hint
func (e *InternalError) WithHint(hint string) *InternalError {
	e.hint = hint
	return e
}

// WithHintf attaches a formatted user-facing hint
func (e *InternalError) WithHintf(format string, args ...interface{}) *InternalError {
	e.hint = fmt.Sprintf(format, args...)
	return e
}

// WithReportableDetails attaches structured details that are safe to expose
// in API responses
func (e *InternalError) WithReportableDetails(details map[string]interface{}) *InternalError {
	e.reportableDetails = details
	return e
}

// Mark classifies the error with one of the package sentinels and returns it
// as a plain error; this finalizes the builder chain.
func (e *InternalError) Mark(mark error) error {
	e.mark = mark
	return errors.Mark(e, mark)
}

func (e *InternalError) Error() string {
	switch {
	case e.message != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s", e.message, e.cause.Error())
	case e.cause != nil:
		return e.cause.Error()
	default:
		return e.message
	}
}

func (e *InternalError) Unwrap() error {
	return e.cause
}

// Hint returns the first user-facing hint found on the error chain
func Hint(err error) string {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.hint
	}
	return ""
}

// ReportableDetails returns the structured details attached to the error, if any
func ReportableDetails(err error) map[string]interface{} {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.reportableDetails
	}
	return nil
}
