package slide

import (
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultExtensions are the recognized whole-slide image extensions.
//
//nolint:gochecknoglobals // Read-only lookup table.
var DefaultExtensions = []string{"svs", "tiff", "tif"}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// ExtensionSet builds a lookup set from extensions in any case, with or without dots.
func ExtensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if e = NormalizeExt(e); e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

// Stem returns the base name of a file path without its extension.
// Both slash and OS separators are accepted so zip entry names work too.
func Stem(name string) string {
	base := path.Base(filepath.ToSlash(name))
	return strings.TrimSpace(strings.TrimSuffix(base, path.Ext(base)))
}

// Namer hands out unique task names in call order.
//
// Names are compared case-insensitively so archives extracted on
// case-insensitive filesystems never merge two images into one folder. A name
// already taken receives the first free "_2", "_3", ... suffix.
type Namer struct {
	taken map[string]struct{}
}

// NewNamer returns an empty Namer.
func NewNamer() *Namer {
	return &Namer{taken: make(map[string]struct{})}
}

// fallbackName replaces stems that cannot serve as a folder name.
const fallbackName = "image"

// Assign returns a unique name derived from the file name. The name is used
// as a directory and as an archive folder, so it is never empty, never made
// of dots only and never contains a path separator.
func (n *Namer) Assign(fileName string) string {
	base := Stem(fileName)
	if strings.Trim(base, ".") == "" || strings.ContainsAny(base, `/\`) {
		base = fallbackName
	}

	candidate := base
	for i := 2; n.isTaken(candidate); i++ {
		candidate = base + "_" + strconv.Itoa(i)
	}
	n.taken[strings.ToLower(candidate)] = struct{}{}
	return candidate
}

func (n *Namer) isTaken(name string) bool {
	_, ok := n.taken[strings.ToLower(name)]
	return ok
}
