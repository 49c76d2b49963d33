// Package errkind categorizes handler and adapter failures into the five
// kinds the job orchestration core distinguishes (spec §7): validation
// failures are never retried; transient backend errors and integration
// failures both follow the handler's retry schedule in the worker
// runtime (the Job Store client does not retry transient errors itself);
// lease loss is a store-detected condition, and fatal errors abort the
// process at startup.
package errkind

import "fmt"

// Kind is one of the categories in spec §7.
type Kind string

const (
	Transient   Kind = "transient"
	Validation  Kind = "validation"
	Integration Kind = "integration"
	LeaseLoss   Kind = "lease_loss"
	Fatal       Kind = "fatal"
)

// Error wraps a cause with the Kind the worker runtime needs to decide
// how to route a failed job.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the worker runtime should consult the
// handler's retry schedule for this error, as opposed to failing the job
// permanently on the first attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case Validation:
		return false
	default:
		return true
	}
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Transientf(cause error, format string, args ...any) *Error {
	return &Error{Kind: Transient, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Message: fmt.Sprintf(format, args...)}
}

func Integrationf(cause error, format string, args ...any) *Error {
	return &Error{Kind: Integration, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As reports whether err carries a *Error and returns it. It exists as a
// small convenience over errors.As for the two-value call sites in the
// worker runtime.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	if ok {
		return e, true
	}
	type wrapper interface{ Unwrap() error }
	if w, ok := err.(wrapper); ok {
		return As(w.Unwrap())
	}
	return nil, false
}
