package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rshade/slidetiler/internal/slide"
)

// DefaultMaxEntrySize caps a single extracted archive entry.
const DefaultMaxEntrySize int64 = 16 << 30

var errEntryTooLarge = errors.New("entry exceeds size limit")

// zipMagic starts every local file header.
var zipMagic = []byte("PK\x03\x04") //nolint:gochecknoglobals // Read-only signature.

// archiveEntry is one image extracted from a ZIP.
type archiveEntry struct {
	Name string // entry name inside the archive
	Path string // extracted file on disk
}

// sanitizePath joins name onto destDir and rejects results outside destDir.
func sanitizePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return target, nil
}

// skipEntry reports whether an archive entry is never considered an image:
// directories, hidden files and macOS resource forks.
func skipEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		return true
	}
	name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
	for _, part := range strings.Split(name, "/") {
		if part == "__MACOSX" || strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// isZip sniffs the local file header signature.
func isZip(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(zipMagic))
	if _, err = io.ReadFull(f, head); err != nil {
		return false
	}
	return string(head) == string(zipMagic)
}

// extractZip unpacks the image entries of the archive at src into destDir,
// in archive order.
func extractZip(
	ctx context.Context,
	src, destDir string,
	exts map[string]struct{},
	maxSize int64,
) ([]archiveEntry, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []archiveEntry
	for _, f := range r.File {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if skipEntry(f) {
			continue
		}
		if _, ok := exts[slide.NormalizeExt(path.Ext(f.Name))]; !ok {
			continue
		}

		target, pathErr := sanitizePath(destDir, f.Name)
		if pathErr != nil {
			return nil, pathErr
		}
		if f.UncompressedSize64 > uint64(maxSize) { //nolint:gosec // maxSize is positive.
			return nil, fmt.Errorf("%s: %w", f.Name, errEntryTooLarge)
		}
		if err = extractFile(f, target, maxSize); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		entries = append(entries, archiveEntry{Name: f.Name, Path: target})
	}
	return entries, nil
}

// extractFile writes a single zip entry to target.
func extractFile(f *zip.File, target string, maxSize int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	// The header size can lie; cap what is actually written.
	lr := &io.LimitedReader{R: rc, N: maxSize + 1}
	_, copyErr := io.Copy(out, lr)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	if lr.N <= 0 {
		return errEntryTooLarge
	}
	return closeErr
}
