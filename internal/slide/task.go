// Package slide holds the per-image task model shared by the extractor, the
// tile invoker, the batch scheduler and the result aggregator.
package slide

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an ImageTask.
type Status string

// Stable values; these strings appear in the manifest and run history.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// FailureReason classifies why an image failed.
type FailureReason string

// Failure reasons recorded on failed tasks.
const (
	ReasonNone      FailureReason = ""
	ReasonToolError FailureReason = "tool_error"
	ReasonTimeout   FailureReason = "timeout"
	ReasonNoTiles   FailureReason = "no_tiles"
	ReasonInternal  FailureReason = "internal"
)

// ImageTask is one image moving through a run.
//
// A task is created Pending by the extractor and only the tile invoker changes
// it afterwards. Each task is owned by exactly one goroutine while its batch runs.
type ImageTask struct {
	ID         uuid.UUID
	Name       string // folder name in the output archive, unique within a run
	SourcePath string // local file handed to the tiler
	Origin     string // input artifact (and zip entry) the image came from

	Status    Status
	Reason    FailureReason
	Error     string
	TileDir   string
	Tiles     []string // tile files reported by the tiler, sorted
	TileCount int
	Duration  time.Duration
}

// NewImageTask returns a Pending task.
func NewImageTask(name, sourcePath, origin string) *ImageTask {
	return &ImageTask{
		ID:         uuid.New(),
		Name:       name,
		SourcePath: sourcePath,
		Origin:     origin,
		Status:     StatusPending,
	}
}

// MarkRunning moves the task to Running.
func (t *ImageTask) MarkRunning() {
	t.Status = StatusRunning
}

// MarkSucceeded records the produced tile directory and tile files. Only
// these files are packed into the output archive.
func (t *ImageTask) MarkSucceeded(tileDir string, tiles []string, elapsed time.Duration) {
	t.Status = StatusSucceeded
	t.Reason = ReasonNone
	t.Error = ""
	t.TileDir = tileDir
	t.Tiles = tiles
	t.TileCount = len(tiles)
	t.Duration = elapsed
}

// MarkFailed records the failure reason and message.
func (t *ImageTask) MarkFailed(reason FailureReason, msg string, elapsed time.Duration) {
	t.Status = StatusFailed
	t.Reason = reason
	t.Error = msg
	t.TileDir = ""
	t.Tiles = nil
	t.TileCount = 0
	t.Duration = elapsed
}

// Err returns the task failure as an error, or nil unless the task failed.
func (t *ImageTask) Err() error {
	if t.Status != StatusFailed {
		return nil
	}
	return &TaskError{Name: t.Name, Reason: t.Reason, Message: t.Error}
}

// Counts summarizes a task list.
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Pending   int
	Tiles     int
}

// Count tallies task states.
func Count(tasks []*ImageTask) Counts {
	c := Counts{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusSucceeded:
			c.Succeeded++
			c.Tiles += t.TileCount
		case StatusFailed:
			c.Failed++
		case StatusPending, StatusRunning:
			c.Pending++
		}
	}
	return c
}
