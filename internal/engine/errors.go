package engine

import "fmt"

// ValidationError marks bad input: unknown statuses, missing fields,
// values out of range.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError marks a request that is well formed but collides with
// the record's current state, such as accepting an already rejected
// task or paying a settled phase.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

func conflictf(format string, args ...any) error {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}
