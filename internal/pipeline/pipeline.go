// Package pipeline drives one tiling run: extract the inputs, tile every
// image batch by batch, aggregate the results, then publish, notify and
// record the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/slidetiler/internal/aggregate"
	"github.com/rshade/slidetiler/internal/config"
	"github.com/rshade/slidetiler/internal/engine/batch"
	"github.com/rshade/slidetiler/internal/extract"
	"github.com/rshade/slidetiler/internal/history"
	"github.com/rshade/slidetiler/internal/logging"
	"github.com/rshade/slidetiler/internal/manifest"
	"github.com/rshade/slidetiler/internal/notify"
	"github.com/rshade/slidetiler/internal/report"
	"github.com/rshade/slidetiler/internal/slide"
	"github.com/rshade/slidetiler/internal/tiler"
)

// Publisher uploads a finished archive and returns where it went.
type Publisher interface {
	Publish(ctx context.Context, runID, archivePath string) (string, error)
}

// Notifier announces a finished run.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// Recorder stores a finished run.
type Recorder interface {
	Record(ctx context.Context, run history.Run) error
}

// Options configures one run.
type Options struct {
	Config    *config.Config // nil means config.Default()
	Inputs    []extract.Input
	Output    string // archive path; empty means Config.Output.Path
	RetryFrom string // previous manifest or output archive; only its failed images run

	// Tiler overrides the PyHIST tiler built from Config.
	Tiler tiler.Tiler
	// OnProgress receives a snapshot per finished image and per finished batch.
	OnProgress batch.ProgressCallback

	// Optional post-run services. Their failures are logged, never returned.
	Publisher Publisher
	Notifier  Notifier
	Recorder  Recorder
}

// Result describes a run, including runs that ended in an error.
type Result struct {
	RunID      string
	Status     string
	Output     string // written archive, empty when none was written
	Location   string // published object, empty when not published
	Manifest   *manifest.Manifest
	Tasks      []*slide.ImageTask
	Plan       [][2]int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Run executes one run. The returned Result is never nil; the error wraps
// slide.ErrInvalidArchive when the inputs were rejected and
// slide.ErrEmptyResult when no image was tiled. Partial success is not an
// error.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	res := &Result{RunID: logging.NewID(), StartedAt: time.Now().UTC()}
	log := logging.FromContext(ctx).With().
		Str("component", "pipeline").
		Str("run_id", res.RunID).
		Logger()
	ctx = log.WithContext(ctx)

	output := opts.Output
	if output == "" {
		output = cfg.Output.Path
	}
	if abs, err := filepath.Abs(output); err == nil {
		output = abs
	}

	err := run(ctx, cfg, opts, output, res)
	res.FinishedAt = time.Now().UTC()
	res.Status = runStatus(res, err)

	if errors.Is(err, context.Canceled) {
		log.Warn().Ctx(ctx).Msg("run canceled")
	}
	afterRun(ctx, opts, res, err)
	return res, err
}

func run(ctx context.Context, cfg *config.Config, opts Options, output string, res *Result) error {
	log := logging.FromContext(ctx)

	removed, err := extract.SweepStale(ctx, cfg.Workspace.Root, cfg.Workspace.Retention)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Msg("stale workspace sweep failed")
	} else if removed > 0 {
		log.Info().Ctx(ctx).Int("removed", removed).Msg("removed stale workspaces")
	}

	ex := extract.New(cfg.Workspace.Root)
	ex.Extensions = cfg.Input.Extensions
	ex.MaxEntrySize = cfg.Input.MaxEntrySize
	ex.KeepWorkspace = cfg.Workspace.Keep

	ws, tasks, err := ex.Extract(ctx, opts.Inputs)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := ws.Close(); closeErr != nil {
			log.Warn().Ctx(ctx).Err(closeErr).Str("workspace", ws.Dir).Msg("workspace cleanup failed")
		}
	}()

	if opts.RetryFrom != "" {
		if tasks, err = retryFilter(ctx, tasks, opts.RetryFrom); err != nil {
			return err
		}
	}
	res.Tasks = tasks

	sizer, err := sizerFor(cfg.Batch)
	if err != nil {
		return err
	}
	proc, err := batch.NewProcessor[*slide.ImageTask](sizer)
	if err != nil {
		return err
	}
	proc.WithProgressCallback(opts.OnProgress)
	res.Plan = proc.CalculateBatches(len(tasks))

	t := opts.Tiler
	if t == nil {
		t = NewTiler(cfg.Tiler)
	}
	inv := tiler.NewInvoker(t, ws.OutputDir, cfg.Tiler.Timeout)
	if cfg.Tiler.ErrorTail > 0 {
		inv.ErrorTail = cfg.Tiler.ErrorTail
	}
	params := toolParams(cfg.Tiler.Params)
	inv.Params = &params

	log.Info().Ctx(ctx).
		Int("images", len(tasks)).
		Int("batch_size", proc.BatchSize(len(tasks))).
		Int("batches", len(res.Plan)).
		Str("strategy", sizer.String()).
		Msg("tiling started")

	if err = proc.ProcessEach(ctx, tasks, inv.Item); err != nil {
		return err
	}

	agg := &aggregate.Aggregator{
		RenameTiles: cfg.Output.RenameTiles,
		Tool:        ToolInfo(cfg.Tiler),
		Batch: manifest.Batch{
			Strategy: sizer.String(),
			Size:     proc.BatchSize(len(tasks)),
			Batches:  len(res.Plan),
		},
	}
	if cfg.Output.Report {
		agg.Report = report.XLSX
	}

	written, err := agg.Write(ctx, tasks, output)
	res.Manifest = written.Manifest
	res.Output = written.Path
	return err
}

// retryFilter keeps only the tasks a previous run recorded as failed.
func retryFilter(ctx context.Context, tasks []*slide.ImageTask, from string) ([]*slide.ImageTask, error) {
	prev, err := manifest.Load(from)
	if err != nil {
		return nil, fmt.Errorf("loading retry manifest: %w", err)
	}

	failed := make(map[string]struct{})
	for _, name := range prev.FailedNames() {
		failed[strings.ToLower(name)] = struct{}{}
	}

	kept := tasks[:0:0]
	for _, task := range tasks {
		if _, ok := failed[strings.ToLower(task.Name)]; ok {
			kept = append(kept, task)
		}
	}
	if len(kept) == 0 {
		return nil, slide.InvalidArchiveError(from, "nothing to retry")
	}

	logging.FromContext(ctx).Info().Ctx(ctx).
		Int("previously_failed", len(failed)).
		Int("retrying", len(kept)).
		Msg("retrying failed images")
	return kept, nil
}

// sizerFor maps the batch config onto a Sizer.
func sizerFor(cfg config.BatchConfig) (batch.Sizer, error) {
	strategy, err := batch.ParseStrategy(cfg.Strategy)
	if err != nil {
		return batch.Sizer{}, err
	}
	s := batch.Sizer{Strategy: strategy, Fraction: cfg.Fraction, Size: cfg.Size}
	return s, s.Validate()
}

// Plan returns the batch boundaries the configured strategy gives for n images.
func Plan(cfg config.BatchConfig, n int) (batch.Sizer, [][2]int, error) {
	s, err := sizerFor(cfg)
	if err != nil {
		return s, nil, err
	}
	proc, err := batch.NewProcessor[struct{}](s)
	if err != nil {
		return s, nil, err
	}
	return s, proc.CalculateBatches(n), nil
}

// NewTiler builds the PyHIST tiler described by cfg.
func NewTiler(cfg config.TilerConfig) *tiler.PyHIST {
	p := tiler.NewPyHIST(cfg.Command, cfg.Script)
	p.Params = toolParams(cfg.Params)
	p.ExtraArgs = cfg.ExtraArgs
	if cfg.TileGlob != "" {
		p.TileGlob = cfg.TileGlob
	}
	p.Runner = &tiler.ExecRunner{WaitDelay: cfg.WaitDelay}
	return p
}

// ToolInfo is the tool record written into the manifest. It excludes
// per-run paths.
func ToolInfo(cfg config.TilerConfig) manifest.Tool {
	command := cfg.Command
	if cfg.Script != "" {
		command += " " + filepath.Base(cfg.Script)
	}
	params := toolParams(cfg.Params).Args()
	params = append(params, cfg.ExtraArgs...)
	return manifest.Tool{Command: command, Params: params}
}

func toolParams(p config.TilerParams) tiler.Params {
	return tiler.Params{
		PatchSize:            p.PatchSize,
		ContentThreshold:     p.ContentThreshold,
		OutputDownsample:     p.OutputDownsample,
		Borders:              p.Borders,
		Corners:              p.Corners,
		PercentageBC:         p.PercentageBC,
		KConst:               p.KConst,
		MinimumSegmentSize:   p.MinimumSegmentSize,
		SavePatches:          p.SavePatches,
		SaveTilecrossedImage: p.SaveTilecrossedImage,
		Info:                 p.Info,
	}
}

func runStatus(res *Result, err error) string {
	switch {
	case errors.Is(err, slide.ErrInvalidArchive):
		return history.StatusInvalid
	case errors.Is(err, slide.ErrEmptyResult):
		return history.StatusEmpty
	case err != nil:
		return history.StatusFailed
	case res.Manifest != nil && res.Manifest.Summary.Failed > 0:
		return history.StatusPartial
	default:
		return history.StatusCompleted
	}
}

// afterRun publishes, notifies and records. None of it can fail the run.
func afterRun(ctx context.Context, opts Options, res *Result, runErr error) {
	// A canceled run is still recorded.
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)

	if opts.Publisher != nil && res.Output != "" {
		location, err := opts.Publisher.Publish(ctx, res.RunID, res.Output)
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Msg("publishing archive failed")
		} else {
			res.Location = location
		}
	}

	if opts.Notifier != nil {
		if err := opts.Notifier.Notify(ctx, event(res, runErr)); err != nil {
			log.Warn().Ctx(ctx).Err(err).Msg("sending run event failed")
		}
	}

	if opts.Recorder != nil {
		if err := opts.Recorder.Record(ctx, record(opts, res, runErr)); err != nil {
			log.Warn().Ctx(ctx).Err(err).Msg("recording run history failed")
		}
	}

	logRun(ctx, log, res, runErr)
}

func logRun(ctx context.Context, log *zerolog.Logger, res *Result, runErr error) {
	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	counts := slide.Count(res.Tasks)
	ev.Ctx(ctx).
		Str("status", res.Status).
		Int("succeeded", counts.Succeeded).
		Int("failed", counts.Failed).
		Int("tiles", counts.Tiles).
		Dur("duration", res.Duration()).
		Str("output", res.Output).
		Msg("run finished")
}

func event(res *Result, runErr error) notify.Event {
	counts := slide.Count(res.Tasks)
	ev := notify.Event{
		Type:       notify.EventRunCompleted,
		RunID:      res.RunID,
		Status:     res.Status,
		Output:     res.Output,
		Location:   res.Location,
		Total:      counts.Total,
		Succeeded:  counts.Succeeded,
		Failed:     counts.Failed,
		Tiles:      counts.Tiles,
		FinishedAt: res.FinishedAt,
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	return ev
}

func record(opts Options, res *Result, runErr error) history.Run {
	counts := slide.Count(res.Tasks)
	run := history.Run{
		ID:         res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Output:     res.Output,
		Status:     res.Status,
		Total:      counts.Total,
		Succeeded:  counts.Succeeded,
		Failed:     counts.Failed,
		Tiles:      counts.Tiles,
	}
	for _, in := range opts.Inputs {
		run.Inputs = append(run.Inputs, in.Path)
	}
	if m := res.Manifest; m != nil {
		run.Strategy = m.Batch.Strategy
		run.BatchSize = m.Batch.Size
		run.Batches = m.Batch.Batches
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	for _, task := range res.Tasks {
		run.Images = append(run.Images, history.Image{
			Name:     task.Name,
			Source:   task.Origin,
			Status:   string(task.Status),
			Reason:   string(task.Reason),
			Error:    task.Error,
			Tiles:    task.TileCount,
			Duration: task.Duration,
		})
	}
	return run
}
