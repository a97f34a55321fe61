// Package aggregate packs the tiles of every succeeded image and the run
// manifest into the output archive.
package aggregate

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rshade/slidetiler/internal/logging"
	"github.com/rshade/slidetiler/internal/manifest"
	"github.com/rshade/slidetiler/internal/slide"
)

// ReportFileName is the optional spreadsheet stored next to the manifest.
const ReportFileName = "report.xlsx"

const partialSuffix = ".partial"

// entryTime is stamped on every archive entry so equal inputs give equal
// archives. It is the earliest time the ZIP format can store.
//
//nolint:gochecknoglobals // Constant value.
var entryTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// ReportFunc renders an extra report for the manifest.
type ReportFunc func(m *manifest.Manifest) ([]byte, error)

// Aggregator writes output archives.
type Aggregator struct {
	RenameTiles bool
	Tool        manifest.Tool
	Batch       manifest.Batch
	Report      ReportFunc // optional
}

// Result describes a written (or, for an empty result, unwritten) archive.
type Result struct {
	Path         string
	Manifest     *manifest.Manifest
	ManifestJSON []byte
	Entries      int
	Bytes        int64
}

// Write builds the manifest for tasks and, when at least one task succeeded,
// writes the archive to dst. The archive is assembled in dst+".partial" and
// renamed into place, so dst never holds a half-written file.
//
// With no succeeded task nothing is written, any existing file at dst is
// removed and slide.ErrEmptyResult is returned together with a Result
// carrying the manifest.
func (a *Aggregator) Write(ctx context.Context, tasks []*slide.ImageTask, dst string) (Result, error) {
	log := logging.FromContext(ctx)

	m := manifest.Build(tasks, a.Tool, a.Batch)
	data, err := m.Marshal()
	if err != nil {
		return Result{}, fmt.Errorf("encoding manifest: %w", err)
	}
	res := Result{Manifest: m, ManifestJSON: data}

	if m.Summary.Succeeded == 0 {
		// An archive left by an earlier run must not pass for this one.
		if err = os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, errors.Join(slide.ErrEmptyResult, fmt.Errorf("removing stale archive: %w", err))
		}
		return res, slide.ErrEmptyResult
	}

	if err = os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return res, fmt.Errorf("creating output directory: %w", err)
	}

	partial := dst + partialSuffix
	entries, written, err := a.writeArchive(ctx, partial, tasks, m, data)
	if err != nil {
		_ = os.Remove(partial)
		return res, err
	}
	if err = os.Rename(partial, dst); err != nil {
		_ = os.Remove(partial)
		return res, fmt.Errorf("finalizing archive: %w", err)
	}

	res.Path = dst
	res.Entries = entries
	res.Bytes = written

	log.Info().Ctx(ctx).
		Str("component", "aggregate").
		Str("output", dst).
		Int("entries", entries).
		Int("succeeded", m.Summary.Succeeded).
		Int("failed", m.Summary.Failed).
		Msg("archive written")
	return res, nil
}

func (a *Aggregator) writeArchive(
	ctx context.Context,
	path string,
	tasks []*slide.ImageTask,
	m *manifest.Manifest,
	manifestJSON []byte,
) (int, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, 0, fmt.Errorf("creating archive: %w", err)
	}

	aw := &archiveWriter{zw: zip.NewWriter(f)}
	werr := a.writeEntries(ctx, aw, tasks, m, manifestJSON)

	cerr := aw.zw.Close()
	if werr == nil && cerr == nil {
		cerr = f.Sync()
	}
	ferr := f.Close()
	if err = errors.Join(werr, cerr, ferr); err != nil {
		return 0, 0, err
	}
	return aw.entries, aw.bytes, nil
}

func (a *Aggregator) writeEntries(
	ctx context.Context,
	aw *archiveWriter,
	tasks []*slide.ImageTask,
	m *manifest.Manifest,
	manifestJSON []byte,
) error {
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.Status != slide.StatusSucceeded {
			continue
		}

		namer := newTileNamer(t.Name, a.RenameTiles)
		for _, tile := range sortedTiles(t) {
			if err := aw.addFile(namer.entryName(tile), tile); err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}
		}
	}

	if err := aw.addBytes(manifest.FileName, manifestJSON); err != nil {
		return err
	}

	if a.Report != nil {
		report, err := a.Report(m)
		if err != nil {
			return fmt.Errorf("rendering report: %w", err)
		}
		if err = aw.addBytes(ReportFileName, report); err != nil {
			return err
		}
	}
	return nil
}

// archiveWriter adds entries with fixed metadata.
type archiveWriter struct {
	zw      *zip.Writer
	entries int
	bytes   int64
}

func (w *archiveWriter) create(name string) (io.Writer, error) {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: entryTime,
	}
	hdr.SetMode(0o644)
	out, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("adding %s: %w", name, err)
	}
	w.entries++
	return out, nil
}

func (w *archiveWriter) addFile(name, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := w.create(name)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, in)
	w.bytes += n
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (w *archiveWriter) addBytes(name string, data []byte) error {
	out, err := w.create(name)
	if err != nil {
		return err
	}
	n, err := out.Write(data)
	w.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
