package slide

import (
	"errors"
	"fmt"
)

// Sentinel errors for run-level and per-image failures.
var (
	// ErrInvalidArchive is fatal: the input is corrupt, unsupported, or has no
	// recognized images. No tiling starts.
	ErrInvalidArchive = errors.New("invalid archive")

	// ErrToolInvocation marks an image the external tiler failed on.
	ErrToolInvocation = errors.New("tool invocation failed")

	// ErrTimeout marks an image whose tiler run exceeded the timeout.
	ErrTimeout = errors.New("timeout")

	// ErrNoTiles marks an image for which the tiler reported success but
	// produced no tile files.
	ErrNoTiles = errors.New("no tiles produced")

	// ErrEmptyResult is fatal after all batches: no image succeeded.
	ErrEmptyResult = errors.New("empty result: no image was tiled")
)

// InvalidArchiveError wraps ErrInvalidArchive with the offending input.
func InvalidArchiveError(path, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidArchive, path, reason)
}

// TaskError describes a failed ImageTask.
type TaskError struct {
	Name    string
	Reason  FailureReason
	Message string
}

func (e *TaskError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Name, e.Reason, e.Message)
}

// Unwrap maps the reason onto the matching sentinel.
func (e *TaskError) Unwrap() error {
	switch e.Reason {
	case ReasonTimeout:
		return ErrTimeout
	case ReasonNoTiles:
		return ErrNoTiles
	case ReasonToolError:
		return ErrToolInvocation
	case ReasonNone, ReasonInternal:
		return nil
	}
	return nil
}
