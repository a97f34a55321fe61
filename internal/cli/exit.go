package cli

import (
	"errors"
	"fmt"

	"github.com/rshade/slidetiler/internal/slide"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitInvalidArchive = 2
	ExitEmptyResult    = 3
)

// ExitError carries the process exit code for a fatal error to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error to the process exit code. An *ExitError anywhere in
// the chain wins; otherwise run errors are classified by their sentinel.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	switch {
	case errors.Is(err, slide.ErrInvalidArchive):
		return ExitInvalidArchive
	case errors.Is(err, slide.ErrEmptyResult):
		return ExitEmptyResult
	default:
		return ExitFailure
	}
}
