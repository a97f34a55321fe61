package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rshade/slidetiler/internal/logging"
)

// SweepStale removes run workspaces under root that were last active more
// than retention ago. They are left behind only when a run was killed before
// its cleanup ran. A workspace whose heartbeat is recent is always kept, even
// with a zero retention. It returns the number of workspaces removed.
func SweepStale(ctx context.Context, root string, retention time.Duration) (int, error) {
	log := logging.FromContext(ctx)

	dirs, err := filepath.Glob(filepath.Join(root, workspacePrefix+"*"))
	if err != nil {
		return 0, fmt.Errorf("listing workspaces in %s: %w", root, err)
	}

	cutoff := time.Now().Add(-retention)
	cleaned := 0
	var errs []error

	for _, dir := range dirs {
		if ctx.Err() != nil {
			return cleaned, ctx.Err()
		}

		info, statErr := os.Stat(dir)
		if statErr != nil || !info.IsDir() {
			continue
		}
		lastActive := info.ModTime()
		if beat, ok := lastHeartbeat(dir); ok {
			// Another run still owns it.
			if time.Since(beat) < activeWindow {
				continue
			}
			if beat.After(lastActive) {
				lastActive = beat
			}
		}
		if !lastActive.Before(cutoff) {
			continue
		}

		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn().Ctx(ctx).Err(rmErr).Str("workspace", dir).Msg("failed to remove stale workspace")
			errs = append(errs, rmErr)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		log.Info().Ctx(ctx).Int("removed", cleaned).Str("root", root).Msg("removed stale workspaces")
	}
	return cleaned, errors.Join(errs...)
}
