package tiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rshade/slidetiler/internal/logging"
	"github.com/rshade/slidetiler/internal/slide"
)

// DefaultErrorTail is how much tool output is kept on a failed task.
const DefaultErrorTail = 2 << 10

const truncatedMarker = "...(truncated)"

// Invoker runs a Tiler for one ImageTask and records the outcome on it.
type Invoker struct {
	Tiler      Tiler
	OutputRoot string        // each task gets OutputRoot/<task name>
	Timeout    time.Duration // per image; zero means no limit
	ErrorTail  int           // bytes of tool output kept on failure
	Params     *Params       // passed on every request; nil keeps the tiler's
}

// NewInvoker returns an Invoker with the default error tail.
func NewInvoker(t Tiler, outputRoot string, timeout time.Duration) *Invoker {
	return &Invoker{
		Tiler:      t,
		OutputRoot: outputRoot,
		Timeout:    timeout,
		ErrorTail:  DefaultErrorTail,
	}
}

// Invoke tiles the task's image. The task ends Succeeded or Failed; failures
// are recorded on the task and never returned, so one bad image cannot stop
// its batch.
func (i *Invoker) Invoke(ctx context.Context, task *slide.ImageTask) {
	log := logging.FromContext(ctx).With().
		Str("component", "tiler").
		Str("image", task.Name).
		Logger()

	start := time.Now()
	task.MarkRunning()

	outDir := filepath.Join(i.OutputRoot, task.Name)
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		task.MarkFailed(slide.ReasonInternal, fmt.Sprintf("creating output directory: %v", err), time.Since(start))
		log.Error().Ctx(ctx).Err(err).Msg("image failed")
		return
	}

	tctx := ctx
	if i.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}

	log.Info().Ctx(ctx).Str("source", task.Origin).Msg("tiling image")

	result, err := i.Tiler.Tile(tctx, TileRequest{
		ImagePath: task.SourcePath,
		OutputDir: outDir,
		Params:    i.Params,
	})
	elapsed := time.Since(start)

	if err != nil {
		reason, msg := i.classify(ctx, tctx, err)
		task.MarkFailed(reason, msg, elapsed)
		log.Warn().Ctx(ctx).
			Str("reason", string(reason)).
			Dur("elapsed", elapsed).
			Str("error", msg).
			Msg("image failed")
		return
	}

	if len(result.Tiles) == 0 {
		task.MarkFailed(slide.ReasonNoTiles, slide.ErrNoTiles.Error(), elapsed)
		log.Warn().Ctx(ctx).Dur("elapsed", elapsed).Msg("image produced no tiles")
		return
	}

	task.MarkSucceeded(result.TileDir, result.Tiles, elapsed)
	log.Info().Ctx(ctx).
		Int("tiles", len(result.Tiles)).
		Dur("elapsed", elapsed).
		Msg("image tiled")
}

// Item adapts Invoke to the batch processor's item function.
func (i *Invoker) Item(ctx context.Context, task *slide.ImageTask, _ int) error {
	i.Invoke(ctx, task)
	return nil
}

func (i *Invoker) classify(parent, tctx context.Context, err error) (slide.FailureReason, string) {
	if errors.Is(tctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		msg := fmt.Sprintf("%s: exceeded %s", slide.ErrTimeout, i.Timeout)
		var toolErr *ToolError
		if errors.As(err, &toolErr) && toolErr.Output != "" {
			msg += ": " + tail(toolErr.Output, i.ErrorTail)
		}
		return slide.ReasonTimeout, msg
	}
	if parent.Err() != nil {
		return slide.ReasonInternal, fmt.Sprintf("run canceled: %v", parent.Err())
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return slide.ReasonToolError, fmt.Sprintf("%s: exit status %d: %s",
			slide.ErrToolInvocation, toolErr.ExitCode, tail(toolErr.Output, i.ErrorTail))
	}
	if errors.Is(err, ErrTilesNotFound) {
		return slide.ReasonNoTiles, tail(err.Error(), i.ErrorTail)
	}
	return slide.ReasonToolError, tail(fmt.Sprintf("%s: %v", slide.ErrToolInvocation, err), i.ErrorTail)
}

// tail keeps the last limit bytes of s, where tool errors usually are.
func tail(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultErrorTail
	}
	if len(s) <= limit {
		return s
	}
	return truncatedMarker + strings.ToValidUTF8(s[len(s)-limit:], "")
}
