// Package extract turns run inputs (ZIP archives or single slide images) into
// Pending image tasks inside a scoped workspace.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rshade/slidetiler/internal/logging"
	"github.com/rshade/slidetiler/internal/slide"
)

// Input is one file handed to a run.
type Input struct {
	Path string
	// OriginalName replaces the file name of Path when deriving the task name
	// and the recorded source. Uploads often arrive under temporary names.
	OriginalName string
}

func (in Input) displayName() string {
	if in.OriginalName != "" {
		return filepath.Base(in.OriginalName)
	}
	return filepath.Base(in.Path)
}

// Extractor validates inputs and produces image tasks.
type Extractor struct {
	Root          string   // parent directory for run workspaces
	Extensions    []string // recognized image extensions
	MaxEntrySize  int64
	KeepWorkspace bool
}

// New returns an Extractor with the default extensions and entry size cap.
func New(root string) *Extractor {
	return &Extractor{
		Root:         root,
		Extensions:   slide.DefaultExtensions,
		MaxEntrySize: DefaultMaxEntrySize,
	}
}

// Extract validates every input, unpacks archives into a fresh workspace and
// returns one Pending task per image in input order (archive order inside a
// ZIP). Any input that is missing, unsupported, corrupt or image-less fails
// the whole call with slide.ErrInvalidArchive and removes the workspace.
func (e *Extractor) Extract(ctx context.Context, inputs []Input) (*Workspace, []*slide.ImageTask, error) {
	log := logging.FromContext(ctx)

	if len(inputs) == 0 {
		return nil, nil, slide.InvalidArchiveError("<none>", "no input given")
	}

	ws, err := NewWorkspace(e.Root)
	if err != nil {
		return nil, nil, err
	}
	ws.Keep(e.KeepWorkspace)

	exts := slide.ExtensionSet(e.Extensions)
	maxSize := e.MaxEntrySize
	if maxSize <= 0 {
		maxSize = DefaultMaxEntrySize
	}

	namer := slide.NewNamer()
	var tasks []*slide.ImageTask

	for i, in := range inputs {
		found, inErr := e.extractInput(ctx, in, i, ws, exts, maxSize, namer)
		if inErr != nil {
			_ = ws.Close()
			return nil, nil, inErr
		}
		log.Debug().Ctx(ctx).
			Str("input", in.displayName()).
			Int("images", len(found)).
			Msg("input accepted")
		tasks = append(tasks, found...)
	}

	log.Info().Ctx(ctx).
		Int("inputs", len(inputs)).
		Int("images", len(tasks)).
		Str("workspace", ws.Dir).
		Msg("inputs extracted")
	return ws, tasks, nil
}

func (e *Extractor) extractInput(
	ctx context.Context,
	in Input,
	index int,
	ws *Workspace,
	exts map[string]struct{},
	maxSize int64,
	namer *slide.Namer,
) ([]*slide.ImageTask, error) {
	display := in.displayName()

	info, err := os.Stat(in.Path)
	if err != nil {
		return nil, slide.InvalidArchiveError(display, "cannot read input: "+err.Error())
	}
	if info.IsDir() {
		return nil, slide.InvalidArchiveError(display, "input is a directory")
	}

	ext := slide.NormalizeExt(filepath.Ext(display))
	if _, ok := exts[ext]; ok {
		return []*slide.ImageTask{slide.NewImageTask(namer.Assign(display), in.Path, display)}, nil
	}

	if ext != "zip" && !isZip(in.Path) {
		return nil, slide.InvalidArchiveError(display, fmt.Sprintf(
			"unsupported input type %q (expected zip or one of %s)", ext, strings.Join(e.Extensions, ", ")))
	}

	// Each archive unpacks into its own directory so equal entry names in
	// different inputs cannot overwrite each other.
	dest := filepath.Join(ws.InputDir, fmt.Sprintf("%03d", index))
	entries, err := extractZip(ctx, in.Path, dest, exts, maxSize)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, slide.InvalidArchiveError(display, err.Error())
	}
	if len(entries) == 0 {
		return nil, slide.InvalidArchiveError(display, "archive contains no recognized images")
	}

	tasks := make([]*slide.ImageTask, 0, len(entries))
	for _, entry := range entries {
		tasks = append(tasks, slide.NewImageTask(namer.Assign(entry.Name), entry.Path, display+":"+entry.Name))
	}
	return tasks, nil
}
