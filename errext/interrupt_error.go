package errext

import (
	"errors"

	"github.com/liuxd6825/vischeck/errext/exitcodes"
)

// InterruptError is an error that halts a run before all checks completed.
type InterruptError struct {
	Reason string
}

var _ HasExitCode = &InterruptError{}

// Error returns the reason of the interruption.
func (i *InterruptError) Error() string {
	return i.Reason
}

// ExitCode returns the status code used when the process exits.
func (i *InterruptError) ExitCode() exitcodes.ExitCode {
	return exitcodes.ExternalAbort
}

// AbortSignal is the reason used when the run is stopped by an OS signal.
const AbortSignal = "run aborted by signal"

// IsInterruptError returns true if err is *InterruptError.
func IsInterruptError(err error) bool {
	if err == nil {
		return false
	}
	var intErr *InterruptError
	return errors.As(err, &intErr)
}
