// Package tiler runs the external tiling tool for one image at a time and
// records the outcome on the image task.
package tiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by Tiler implementations.
var (
	// ErrToolFailed indicates the tool exited unsuccessfully.
	ErrToolFailed = errors.New("tiling tool failed")

	// ErrTilesNotFound indicates the tool succeeded but its tile directory is missing.
	ErrTilesNotFound = errors.New("tile directory not found")
)

// Tiler turns one image into a directory of tiles.
type Tiler interface {
	Tile(ctx context.Context, req TileRequest) (TileResult, error)
}

// TileRequest is one tiling job.
type TileRequest struct {
	ImagePath string  // image file to tile
	OutputDir string  // empty directory owned by this job
	Params    *Params // tool options; nil uses the tiler's own
}

// TileResult lists the tiles produced for one image.
type TileResult struct {
	TileDir string
	Tiles   []string // absolute paths, sorted
}

// ToolError reports a non-zero exit of the tiling tool.
type ToolError struct {
	ExitCode int
	Output   string // stdout followed by stderr
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", ErrToolFailed, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", ErrToolFailed, e.ExitCode, out)
}

// Unwrap lets errors.Is match ErrToolFailed.
func (e *ToolError) Unwrap() error {
	return ErrToolFailed
}
