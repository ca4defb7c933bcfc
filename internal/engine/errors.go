package engine

import "fmt"

// ValidationError indicates malformed input; the caller decides whether to
// fix and retry.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError indicates an operation attempted against an entity in
// the wrong state. Never auto-retried.
type InvalidStateError struct {
	Msg string
}

func (e InvalidStateError) Error() string { return e.Msg }

func invalidStatef(format string, args ...any) error {
	return InvalidStateError{Msg: fmt.Sprintf(format, args...)}
}
