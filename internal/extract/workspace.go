package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// workspacePrefix names run directories so SweepStale only touches its own.
const workspacePrefix = "run-"

const (
	// heartbeatFile is refreshed while the owning run is alive.
	heartbeatFile = ".heartbeat"

	// HeartbeatInterval is how often a live workspace refreshes its heartbeat.
	HeartbeatInterval = time.Minute

	// activeWindow is how recent a heartbeat must be for SweepStale to leave
	// the workspace alone whatever its age.
	activeWindow = 3 * HeartbeatInterval
)

// Workspace is the scratch directory tree owned by one run.
//
// While open, a workspace refreshes a heartbeat file so that SweepStale in
// another process never removes it, however long the run takes.
type Workspace struct {
	Dir       string
	InputDir  string // extracted archive entries
	OutputDir string // one tiler output directory per task

	keep     bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorkspace creates a fresh run directory under root and starts its
// heartbeat.
func NewWorkspace(root string) (*Workspace, error) {
	return newWorkspace(root, HeartbeatInterval)
}

func newWorkspace(root string, interval time.Duration) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace root %s: %w", root, err)
	}

	dir, err := os.MkdirTemp(root, workspacePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	ws := &Workspace{
		Dir:       dir,
		InputDir:  filepath.Join(dir, "input"),
		OutputDir: filepath.Join(dir, "output"),
	}
	for _, sub := range []string{ws.InputDir, ws.OutputDir} {
		if err = os.MkdirAll(sub, 0o700); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("creating workspace directory %s: %w", sub, err)
		}
	}
	if err = ws.Touch(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	ws.stop = make(chan struct{})
	ws.done = make(chan struct{})
	go ws.beat(interval)
	return ws, nil
}

// Touch marks the workspace as in use now.
func (w *Workspace) Touch() error {
	p := filepath.Join(w.Dir, heartbeatFile)
	now := time.Now()
	err := os.Chtimes(p, now, now)
	if errors.Is(err, os.ErrNotExist) {
		err = os.WriteFile(p, nil, 0o600)
	}
	if err != nil {
		return fmt.Errorf("touching workspace %s: %w", w.Dir, err)
	}
	return nil
}

func (w *Workspace) beat(interval time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			_ = w.Touch()
		}
	}
}

func (w *Workspace) stopHeartbeat() {
	if w.stop == nil {
		return
	}
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
	})
}

// Keep makes Close leave the directory in place for inspection.
func (w *Workspace) Keep(keep bool) {
	w.keep = keep
}

// TaskDir returns the output directory reserved for a task name.
func (w *Workspace) TaskDir(name string) string {
	return filepath.Join(w.OutputDir, name)
}

// Close stops the heartbeat and removes the workspace. A kept workspace stays
// on disk and ages out through SweepStale. Close is safe to call more than
// once and on nil.
func (w *Workspace) Close() error {
	if w == nil {
		return nil
	}
	w.stopHeartbeat()
	if w.keep || w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("removing workspace %s: %w", w.Dir, err)
	}
	return nil
}

// lastHeartbeat returns when the workspace in dir last reported being alive.
func lastHeartbeat(dir string) (time.Time, bool) {
	info, err := os.Stat(filepath.Join(dir, heartbeatFile))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
