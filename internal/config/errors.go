package config

import "fmt"

// Error marks a configuration problem: malformed trigger input, an empty
// matrix axis, a dangling `needs` reference and the like. Configuration
// errors abort a run before any job is scheduled; they are never attributed
// to a job.
type Error struct {
	Msg string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "configuration error: " + e.Msg
}

// Errorf builds a configuration error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}
