package aggregate

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rshade/slidetiler/internal/slide"
)

// defaultTileNumber is used for tiles whose name carries no number.
const defaultTileNumber = "0000"

// tileNumber returns the last all-digit "_" separated token of a tile stem,
// e.g. "slide_tile_0042" -> "0042".
func tileNumber(stem string) string {
	parts := strings.Split(stem, "_")
	for i := len(parts) - 1; i >= 0; i-- {
		if isDigits(parts[i]) {
			return parts[i]
		}
	}
	return defaultTileNumber
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// tileNamer maps tile files to entry names inside one image folder.
type tileNamer struct {
	image  string
	rename bool
	used   map[string]struct{}
}

func newTileNamer(image string, rename bool) *tileNamer {
	return &tileNamer{image: image, rename: rename, used: make(map[string]struct{})}
}

// entryName returns "<image>/<file>" for a tile. With renaming on, the file
// becomes "<image>_<tileNumber><ext>"; when that name is already used in the
// folder the tile keeps its original file name.
func (n *tileNamer) entryName(tilePath string) string {
	base := filepath.Base(tilePath)
	name := base
	if n.rename {
		ext := filepath.Ext(base)
		renamed := fmt.Sprintf("%s_%s%s", n.image, tileNumber(strings.TrimSuffix(base, ext)), ext)
		if _, taken := n.used[renamed]; !taken {
			name = renamed
		}
	}

	// Two tiles can still meet when a fallback equals an earlier rename.
	candidate := name
	for i := 2; ; i++ {
		if _, taken := n.used[candidate]; !taken {
			break
		}
		ext := filepath.Ext(name)
		candidate = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), i, ext)
	}
	n.used[candidate] = struct{}{}
	return n.image + "/" + candidate
}

// sortedTiles returns the task's tile files ordered by path. Other files the
// tool leaves in the tile directory are never packed.
func sortedTiles(t *slide.ImageTask) []string {
	tiles := slices.Clone(t.Tiles)
	slices.Sort(tiles)
	return tiles
}
