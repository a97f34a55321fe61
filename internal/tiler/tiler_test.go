package tiler

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/slidetiler/internal/slide"
)

// mockRunner implements CommandRunner for testing.
type mockRunner struct {
	stdout []byte
	stderr []byte
	err    error
	// onRun simulates the files the tool writes.
	onRun func(args []string)
	// Captured call arguments for verification.
	lastDir  string
	lastName string
	lastArgs []string
}

func (m *mockRunner) Run(_ context.Context, dir string, name string, args ...string) ([]byte, []byte, error) {
	m.lastDir = dir
	m.lastName = name
	m.lastArgs = args
	if m.onRun != nil {
		m.onRun(args)
	}
	return m.stdout, m.stderr, m.err
}

// withMockRunner replaces the package Runner with a mock and restores it on cleanup.
func withMockRunner(t *testing.T, m *mockRunner) {
	t.Helper()
	orig := Runner
	Runner = m
	t.Cleanup(func() { Runner = orig })
}

type exitErr int

func (e exitErr) Error() string { return "exit status" }
func (e exitErr) ExitCode() int { return int(e) }

// writeTiles mimics PyHIST's output layout for the image passed last in args.
func writeTiles(t *testing.T, dirName string, files ...string) func(args []string) {
	t.Helper()
	return func(args []string) {
		out := args[len(args)-2]
		stem := slide.Stem(args[len(args)-1])
		if dirName == "" {
			dirName = stem + "_tiles"
		}
		tileDir := filepath.Join(out, stem, dirName)
		require.NoError(t, os.MkdirAll(tileDir, 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(out, stem, "tilecrossed.png"), nil, 0o600))
		for _, f := range files {
			require.NoError(t, os.WriteFile(filepath.Join(tileDir, f), []byte(f), 0o600))
		}
	}
}

func TestParams_Args(t *testing.T) {
	want := "--patch-size 512 --content-threshold 0.4 --output-downsample 4 --borders 0000 " +
		"--corners 1010 --percentage-bc 1 --k-const 1000 --minimum_segmentsize 1000 " +
		"--save-patches --save-tilecrossed-image --info verbose"
	assert.Equal(t, want, strings.Join(DefaultParams().Args(), " "))

	p := DefaultParams()
	p.SavePatches = false
	p.SaveTilecrossedImage = false
	p.Info = ""
	p.ContentThreshold = 0.25
	args := strings.Join(p.Args(), " ")
	assert.NotContains(t, args, "--save-patches")
	assert.NotContains(t, args, "--info")
	assert.Contains(t, args, "--content-threshold 0.25")
}

func TestPyHIST_CommandLine(t *testing.T) {
	p := NewPyHIST("python3", "/opt/PyHIST/pyhist.py")
	p.ExtraArgs = []string{"--method", "otsu"}

	name, args, dir := p.CommandLine(TileRequest{ImagePath: "/in/a.svs", OutputDir: "/out/a"})
	assert.Equal(t, "python3", name)
	assert.Equal(t, "/opt/PyHIST", dir)
	assert.Equal(t, "/opt/PyHIST/pyhist.py", args[0])
	assert.Equal(t, []string{"--method", "otsu", "--output", "/out/a", "/in/a.svs"}, args[len(args)-5:])

	override := DefaultParams()
	override.PatchSize = 256
	_, args, _ = p.CommandLine(TileRequest{ImagePath: "/in/a.svs", OutputDir: "/out/a", Params: &override})
	assert.Equal(t, []string{"/opt/PyHIST/pyhist.py", "--patch-size", "256"}, args[:3])

	direct := NewPyHIST("/usr/local/bin/pyhist", "")
	_, args, dir = direct.CommandLine(TileRequest{ImagePath: "a.svs", OutputDir: "o"})
	assert.Empty(t, dir)
	assert.Equal(t, "--patch-size", args[0])
}

func TestPyHIST_Tile(t *testing.T) {
	t.Setenv("SLIDETILER_LOG_LEVEL", "error")

	t.Run("collects sorted tiles", func(t *testing.T) {
		out := t.TempDir()
		mock := &mockRunner{onRun: writeTiles(t, "", "s_0002.png", "s_0001.png", "notes.txt")}
		withMockRunner(t, mock)

		res, err := NewPyHIST("python3", "/opt/pyhist.py").Tile(context.Background(),
			TileRequest{ImagePath: "/in/s.svs", OutputDir: out})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(out, "s", "s_tiles"), res.TileDir)
		require.Len(t, res.Tiles, 2)
		assert.Equal(t, "s_0001.png", filepath.Base(res.Tiles[0]))
		assert.Equal(t, "/opt", mock.lastDir)
	})

	t.Run("finds renamed tile directory", func(t *testing.T) {
		out := t.TempDir()
		withMockRunner(t, &mockRunner{onRun: writeTiles(t, "other_tiles", "x.png")})

		res, err := NewPyHIST("python3", "").Tile(context.Background(),
			TileRequest{ImagePath: "/in/s.svs", OutputDir: out})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(out, "s", "other_tiles"), res.TileDir)
		assert.Len(t, res.Tiles, 1)
	})

	t.Run("missing tile directory", func(t *testing.T) {
		withMockRunner(t, &mockRunner{})

		_, err := NewPyHIST("python3", "").Tile(context.Background(),
			TileRequest{ImagePath: "/in/s.svs", OutputDir: t.TempDir()})
		require.ErrorIs(t, err, ErrTilesNotFound)
	})

	t.Run("tool failure", func(t *testing.T) {
		withMockRunner(t, &mockRunner{
			stdout: []byte("reading slide"),
			stderr: []byte("openslide: unsupported format"),
			err:    exitErr(2),
		})

		_, err := NewPyHIST("python3", "").Tile(context.Background(),
			TileRequest{ImagePath: "/in/s.svs", OutputDir: t.TempDir()})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, 2, toolErr.ExitCode)
		assert.Equal(t, "reading slide\nopenslide: unsupported format", toolErr.Output)
		assert.ErrorIs(t, err, ErrToolFailed)
	})

	t.Run("runner error without output", func(t *testing.T) {
		withMockRunner(t, &mockRunner{err: errors.New("exec: \"python3\": not found")})

		_, err := NewPyHIST("python3", "").Tile(context.Background(),
			TileRequest{ImagePath: "/in/s.svs", OutputDir: t.TempDir()})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, -1, toolErr.ExitCode)
		assert.Contains(t, toolErr.Output, "not found")
	})

	t.Run("injected runner wins over package runner", func(t *testing.T) {
		pkg := &mockRunner{}
		withMockRunner(t, pkg)
		own := &mockRunner{err: exitErr(1)}

		p := NewPyHIST("python3", "")
		p.Runner = own
		_, err := p.Tile(context.Background(), TileRequest{ImagePath: "a.svs", OutputDir: t.TempDir()})
		require.Error(t, err)
		assert.Equal(t, "python3", own.lastName)
		assert.Empty(t, pkg.lastName)
	})
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := &ExecRunner{WaitDelay: time.Second}

	t.Run("exit code and streams", func(t *testing.T) {
		stdout, stderr, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err >&2; exit 3")
		require.Error(t, err)
		assert.Equal(t, 3, exitCode(err))
		assert.Equal(t, "out\n", string(stdout))
		assert.Equal(t, "err\n", string(stderr))
	})

	t.Run("killed on context timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, _, err := r.Run(ctx, "", "sh", "-c", "sleep 10")
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

// tilerFunc adapts a function to the Tiler interface.
type tilerFunc func(ctx context.Context, req TileRequest) (TileResult, error)

func (f tilerFunc) Tile(ctx context.Context, req TileRequest) (TileResult, error) {
	return f(ctx, req)
}

func TestInvoker_Invoke(t *testing.T) {
	t.Setenv("SLIDETILER_LOG_LEVEL", "error")

	tests := []struct {
		name       string
		tiler      tilerFunc
		timeout    time.Duration
		errorTail  int
		wantStatus slide.Status
		wantReason slide.FailureReason
		wantTiles  int
		wantInErr  string
	}{
		{
			name: "success",
			tiler: func(_ context.Context, req TileRequest) (TileResult, error) {
				return TileResult{TileDir: req.OutputDir, Tiles: []string{"a.png", "b.png"}}, nil
			},
			wantStatus: slide.StatusSucceeded,
			wantTiles:  2,
		},
		{
			name: "zero tiles",
			tiler: func(_ context.Context, req TileRequest) (TileResult, error) {
				return TileResult{TileDir: req.OutputDir}, nil
			},
			wantStatus: slide.StatusFailed,
			wantReason: slide.ReasonNoTiles,
			wantInErr:  "no tiles",
		},
		{
			name: "tile directory missing",
			tiler: func(context.Context, TileRequest) (TileResult, error) {
				return TileResult{}, ErrTilesNotFound
			},
			wantStatus: slide.StatusFailed,
			wantReason: slide.ReasonNoTiles,
		},
		{
			name: "tool error keeps the tail of the output",
			tiler: func(context.Context, TileRequest) (TileResult, error) {
				return TileResult{}, &ToolError{ExitCode: 1, Output: strings.Repeat("x", 100) + "Traceback: boom"}
			},
			errorTail:  20,
			wantStatus: slide.StatusFailed,
			wantReason: slide.ReasonToolError,
			wantInErr:  "exit status 1: ...(truncated)",
		},
		{
			name: "other error",
			tiler: func(context.Context, TileRequest) (TileResult, error) {
				return TileResult{}, errors.New("fork failed")
			},
			wantStatus: slide.StatusFailed,
			wantReason: slide.ReasonToolError,
			wantInErr:  "fork failed",
		},
		{
			name: "timeout",
			tiler: func(ctx context.Context, _ TileRequest) (TileResult, error) {
				<-ctx.Done()
				return TileResult{}, ctx.Err()
			},
			timeout:    20 * time.Millisecond,
			wantStatus: slide.StatusFailed,
			wantReason: slide.ReasonTimeout,
			wantInErr:  "exceeded 20ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			inv := NewInvoker(tt.tiler, root, tt.timeout)
			if tt.errorTail > 0 {
				inv.ErrorTail = tt.errorTail
			}
			task := slide.NewImageTask("img", "/in/img.svs", "img.svs")

			inv.Invoke(context.Background(), task)

			assert.Equal(t, tt.wantStatus, task.Status)
			assert.Equal(t, tt.wantReason, task.Reason)
			assert.Equal(t, tt.wantTiles, task.TileCount)
			assert.DirExists(t, filepath.Join(root, "img"))
			if tt.wantInErr != "" {
				assert.Contains(t, task.Error, tt.wantInErr)
			}
			if tt.wantStatus == slide.StatusSucceeded {
				assert.Equal(t, filepath.Join(root, "img"), task.TileDir)
				assert.Empty(t, task.Error)
			}
			if tt.errorTail > 0 {
				assert.True(t, strings.HasSuffix(task.Error, "Traceback: boom"))
			}
		})
	}
}

func TestInvoker_PassesParams(t *testing.T) {
	t.Setenv("SLIDETILER_LOG_LEVEL", "error")

	var got *Params
	inv := NewInvoker(tilerFunc(func(_ context.Context, req TileRequest) (TileResult, error) {
		got = req.Params
		return TileResult{TileDir: req.OutputDir, Tiles: []string{"t.png"}}, nil
	}), t.TempDir(), 0)
	params := DefaultParams()
	params.ContentThreshold = 0.25
	inv.Params = &params

	inv.Invoke(context.Background(), slide.NewImageTask("img", "/in/img.svs", "img.svs"))
	require.NotNil(t, got)
	assert.InDelta(t, 0.25, got.ContentThreshold, 1e-9)
}

func TestInvoker_KeepsStderrCause(t *testing.T) {
	t.Setenv("SLIDETILER_LOG_LEVEL", "error")

	p := NewPyHIST("python3", "")
	p.Runner = &mockRunner{
		stdout: []byte(strings.Repeat("INFO processing tile...\n", 500)),
		stderr: []byte("Traceback: OpenSlideError: Unsupported or missing image file"),
		err:    exitErr(1),
	}
	inv := NewInvoker(p, t.TempDir(), 0)
	task := slide.NewImageTask("img", "/in/img.svs", "img.svs")

	inv.Invoke(context.Background(), task)

	assert.Equal(t, slide.ReasonToolError, task.Reason)
	assert.Contains(t, task.Error, truncatedMarker)
	assert.True(t, strings.HasSuffix(task.Error, "Traceback: OpenSlideError: Unsupported or missing image file"))
}

func TestInvoker_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := NewInvoker(tilerFunc(func(ctx context.Context, _ TileRequest) (TileResult, error) {
		return TileResult{}, ctx.Err()
	}), t.TempDir(), time.Minute)
	task := slide.NewImageTask("img", "/in/img.svs", "img.svs")

	require.NoError(t, inv.Item(ctx, task, 0))
	assert.Equal(t, slide.StatusFailed, task.Status)
	assert.Equal(t, slide.ReasonInternal, task.Reason)
}

func TestInvoker_OutputDirError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	called := false
	inv := NewInvoker(tilerFunc(func(context.Context, TileRequest) (TileResult, error) {
		called = true
		return TileResult{}, nil
	}), blocker, 0)
	task := slide.NewImageTask("img", "", "")

	inv.Invoke(context.Background(), task)
	assert.False(t, called)
	assert.Equal(t, slide.ReasonInternal, task.Reason)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 10))
	assert.Equal(t, "...(truncated)6789", tail("0123456789", 4))
	assert.Len(t, tail(strings.Repeat("a", 5000), 0), DefaultErrorTail+len(truncatedMarker))
}
