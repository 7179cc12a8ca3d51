package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy is returned by Start while another run holds the slot.
	ErrBusy = errors.New("another model checking process is currently running")
	// ErrNoPrevious is returned by Again before any run was started.
	ErrNoPrevious = errors.New("no model has been checked yet")
	// ErrFinished is returned by Usage after the process ended.
	ErrFinished = errors.New("model checking process has finished")
)

// ToolingError reports a failure of the tooling around the checker: the command
// could not be built or started, or the process exited with a tooling exit code.
// Results of the checked specification are never ToolingErrors.
type ToolingError struct {
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	msg := fmt.Sprintf("%s: TLC exited with code %d", e.Op, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *ToolingError) Unwrap() error {
	return e.Err
}

// IsToolingError reports whether err is or wraps a *ToolingError.
func IsToolingError(err error) bool {
	var te *ToolingError
	return errors.As(err, &te)
}
