package tiler

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"
)

// DefaultWaitDelay bounds how long a killed tool may keep its pipes open.
const DefaultWaitDelay = 10 * time.Second

// CommandRunner executes an external command and returns its stdout, stderr, and error.
// This interface enables testing without spawning real subprocesses.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// ExecRunner is the default CommandRunner that uses exec.CommandContext. The
// process is killed when ctx is done.
type ExecRunner struct {
	WaitDelay time.Duration
}

// Run implements CommandRunner.
func (r *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Runner is the package-level CommandRunner used when a PyHIST has none.
// Replace in tests with a mock.
var Runner CommandRunner = &ExecRunner{} //nolint:gochecknoglobals // Required for test injection
