// Package status defines the process exit codes and the error type that
// carries them from the pipeline stages up to main. The codes follow the
// BSD sysexits convention where one exists.
package status

import (
	"errors"
	"fmt"
)

const (
	OK          = 0  // pipeline ran to completion
	Halt        = 1  // stopped at a requested checkpoint (expected)
	Interrupted = 2  // stopped by the user (SIGINT)
	DataErr     = 65 // conflicting or malformed input data
	NoInput     = 66 // a required input file is missing
	RunDirErr   = 71 // run directory cannot be created or locked
	Software    = 70 // unexpected internal failure
	External    = 73 // an external tool failed to produce its output
	Policy      = 75 // missing genes without --accept-missing
	Protected   = 77 // deletion refused under --protect
	Usage       = 78 // bad configuration or flag values
)

// Error wraps an error with the exit code the process should use.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a coded error in fmt.Errorf style.
func Errorf(code int, format string, a ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, a...)}
}

// Wrap attaches a code to an existing error.
func Wrap(code int, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the exit code from err. Errors without an explicit
// code report Software (70), the "unexpected failure" category.
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return Software
}

// IsHalt reports whether err is an expected intermediate stop rather
// than a failure.
func IsHalt(err error) bool {
	return CodeOf(err) == Halt
}
