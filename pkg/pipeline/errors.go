package pipeline

import (
	"errors"
	"fmt"
)

// Class partitions pipeline failures by who can fix them and whether a
// retry can help.
type Class string

const (
	// ClassValidation marks caller mistakes: unknown operations, missing
	// or malformed parameters. Retrying the same request cannot succeed.
	ClassValidation Class = "validation"

	// ClassConfiguration marks deployment mistakes: a missing engine or
	// source in the request metadata. Raised before any backend work.
	ClassConfiguration Class = "configuration"

	// ClassExecution marks backend failures during statement execution.
	// These may be transient.
	ClassExecution Class = "execution"

	// ClassInternal marks everything else, including unclassified errors.
	ClassInternal Class = "internal"
)

// Stage names used in error attribution.
const (
	StagePre  = "pre-process"
	StageExec = "execute"
	StagePost = "post-process"
)

// Error is a classified pipeline failure. Stage, Operation, and Field
// locate the failure; Err carries the wrapped cause when one exists.
type Error struct {
	Class     Class
	Stage     string
	Operation string
	Field     string
	Message   string
	Err       error
}

var _ error = (*Error)(nil)

// Error renders the failure with its attribution prefix.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	switch {
	case e.Stage != "" && e.Operation != "":
		return fmt.Sprintf("%s %s/%s: %s", e.Class, e.Operation, e.Stage, msg)
	case e.Operation != "":
		return fmt.Sprintf("%s %s: %s", e.Class, e.Operation, msg)
	case e.Stage != "":
		return fmt.Sprintf("%s %s: %s", e.Class, e.Stage, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Class, msg)
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a validation error naming the offending field.
func Validationf(field, format string, args ...any) *Error {
	return &Error{Class: ClassValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Configurationf builds a configuration error.
func Configurationf(format string, args ...any) *Error {
	return &Error{Class: ClassConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Executionf builds an execution error wrapping the backend cause.
func Executionf(cause error, format string, args ...any) *Error {
	return &Error{Class: ClassExecution, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Internalf builds an internal error.
func Internalf(format string, args ...any) *Error {
	return &Error{Class: ClassInternal, Message: fmt.Sprintf(format, args...)}
}

// At attaches stage and operation attribution, returning e for chaining.
// Existing attribution is kept so the innermost raiser wins.
func (e *Error) At(stage, operation string) *Error {
	if e.Stage == "" {
		e.Stage = stage
	}
	if e.Operation == "" {
		e.Operation = operation
	}
	return e
}

// Wrap attaches a cause, returning e for chaining.
func (e *Error) Wrap(cause error) *Error {
	e.Err = cause
	return e
}

// Classify returns the class of err. Unclassified errors, including
// wrapped causes with no *Error in the chain, report ClassInternal.
func Classify(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassInternal
}

// FieldOf returns the offending field named by err, if any.
func FieldOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Field
	}
	return ""
}
