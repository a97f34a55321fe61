package tiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rshade/slidetiler/internal/logging"
	"github.com/rshade/slidetiler/internal/slide"
)

// Params are the PyHIST segmentation and tiling options. They are passed to
// the tool unchanged.
type Params struct {
	PatchSize            int
	ContentThreshold     float64
	OutputDownsample     int
	Borders              string
	Corners              string
	PercentageBC         float64
	KConst               int
	MinimumSegmentSize   int
	SavePatches          bool
	SaveTilecrossedImage bool
	Info                 string
}

// DefaultParams returns the options the tiling service has always used.
func DefaultParams() Params {
	return Params{
		PatchSize:            512,
		ContentThreshold:     0.4,
		OutputDownsample:     4,
		Borders:              "0000",
		Corners:              "1010",
		PercentageBC:         1,
		KConst:               1000,
		MinimumSegmentSize:   1000,
		SavePatches:          true,
		SaveTilecrossedImage: true,
		Info:                 "verbose",
	}
}

// Args renders the options as PyHIST command-line flags.
func (p Params) Args() []string {
	args := []string{
		"--patch-size", strconv.Itoa(p.PatchSize),
		"--content-threshold", formatFloat(p.ContentThreshold),
		"--output-downsample", strconv.Itoa(p.OutputDownsample),
		"--borders", p.Borders,
		"--corners", p.Corners,
		"--percentage-bc", formatFloat(p.PercentageBC),
		"--k-const", strconv.Itoa(p.KConst),
		"--minimum_segmentsize", strconv.Itoa(p.MinimumSegmentSize),
	}
	if p.SavePatches {
		args = append(args, "--save-patches")
	}
	if p.SaveTilecrossedImage {
		args = append(args, "--save-tilecrossed-image")
	}
	if p.Info != "" {
		args = append(args, "--info", p.Info)
	}
	return args
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// PyHIST runs the PyHIST histological image tiler.
//
// The tool writes <OutputDir>/<stem>/<stem>_tiles/*.png for an image named
// <stem>.<ext>; only the files under the _tiles directory are reported.
type PyHIST struct {
	Command   string   // interpreter or binary, e.g. python3
	Script    string   // script path; empty when Command is the tool itself
	TileGlob  string   // defaults to *.png
	Params    Params   // used when a request carries no Params
	ExtraArgs []string // appended after the params
	Runner    CommandRunner
}

// NewPyHIST returns a PyHIST with the default parameters.
func NewPyHIST(command, script string) *PyHIST {
	return &PyHIST{
		Command:  command,
		Script:   script,
		TileGlob: "*.png",
		Params:   DefaultParams(),
	}
}

// CommandLine returns the command name, arguments and working directory used
// for req.
func (p *PyHIST) CommandLine(req TileRequest) (string, []string, string) {
	var args []string
	dir := ""
	if p.Script != "" {
		args = append(args, p.Script)
		// PyHIST resolves its helper binaries relative to its own directory.
		dir = filepath.Dir(p.Script)
	}
	params := p.Params
	if req.Params != nil {
		params = *req.Params
	}
	args = append(args, params.Args()...)
	args = append(args, p.ExtraArgs...)
	args = append(args, "--output", req.OutputDir, req.ImagePath)
	return p.Command, args, dir
}

// Tile implements Tiler.
func (p *PyHIST) Tile(ctx context.Context, req TileRequest) (TileResult, error) {
	log := logging.FromContext(ctx)

	runner := p.Runner
	if runner == nil {
		runner = Runner
	}

	// The tool runs from the script directory, so relative paths would break.
	if abs, err := filepath.Abs(req.ImagePath); err == nil {
		req.ImagePath = abs
	}
	if abs, err := filepath.Abs(req.OutputDir); err == nil {
		req.OutputDir = abs
	}

	name, args, dir := p.CommandLine(req)
	log.Debug().
		Ctx(ctx).
		Str("component", "tiler").
		Str("command", name).
		Strs("args", args).
		Str("dir", dir).
		Msg("running tiling tool")

	stdout, stderr, err := runner.Run(ctx, dir, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return TileResult{}, ctx.Err()
		}
		return TileResult{}, &ToolError{
			ExitCode: exitCode(err),
			Output:   combineOutput(stdout, stderr, err),
		}
	}

	return p.collect(req)
}

// collect lists the tiles PyHIST wrote for req.
func (p *PyHIST) collect(req TileRequest) (TileResult, error) {
	glob := p.TileGlob
	if glob == "" {
		glob = "*.png"
	}

	stem := slide.Stem(req.ImagePath)
	tileDir := filepath.Join(req.OutputDir, stem, stem+"_tiles")
	if _, err := os.Stat(tileDir); err != nil {
		found, findErr := findTileDir(req.OutputDir)
		if findErr != nil {
			return TileResult{}, findErr
		}
		tileDir = found
	}

	tiles, err := filepath.Glob(filepath.Join(tileDir, glob))
	if err != nil {
		return TileResult{}, fmt.Errorf("listing tiles: %w", err)
	}
	sort.Strings(tiles)
	return TileResult{TileDir: tileDir, Tiles: tiles}, nil
}

// findTileDir looks for the first "*_tiles" directory under root. The tool
// derives the directory from the file name it was given, which may differ
// from the stem computed here for unusual names.
func findTileDir(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root && strings.HasSuffix(d.Name(), "_tiles") {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching %s: %w", root, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w under %s", ErrTilesNotFound, root)
	}
	return found, nil
}

func exitCode(err error) int {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// combineOutput puts stderr last: failures are kept as a tail, and the cause
// is on stderr while stdout carries PyHIST's verbose progress.
func combineOutput(stdout, stderr []byte, err error) string {
	var b strings.Builder
	b.Write(stdout)
	if len(stderr) > 0 {
		if b.Len() > 0 && !bytes.HasSuffix(stdout, []byte("\n")) {
			b.WriteByte('\n')
		}
		b.Write(stderr)
	}
	if b.Len() == 0 && err != nil {
		b.WriteString(err.Error())
	}
	return b.String()
}
