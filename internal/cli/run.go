package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/slidetiler/internal/config"
	"github.com/rshade/slidetiler/internal/engine/batch"
	"github.com/rshade/slidetiler/internal/extract"
	"github.com/rshade/slidetiler/internal/logging"
	"github.com/rshade/slidetiler/internal/pipeline"
	"github.com/rshade/slidetiler/internal/tiler"
	"github.com/rshade/slidetiler/internal/tui"
)

// runFlags holds the flags of the run command.
type runFlags struct {
	inputs        []string
	originalNames []string
	output        string
	retryFrom     string
	progress      string

	strategy  string
	fraction  float64
	batchSize int
	timeout   string
	keep      bool
	report    bool
}

// NewRunCmd creates the run command that tiles every image of the inputs.
func NewRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tile the images of one or more archives or slide files",
		Long: `Extracts the inputs, runs the tiler on every image in batches and writes
one ZIP archive with a folder of tiles per image and a manifest.json.

Images that fail are listed in the manifest; the run still succeeds as long
as at least one image was tiled.

Exit codes:
  0  at least one image was tiled
  1  configuration, flag or I/O error
  2  invalid input archive
  3  no image could be tiled`,
		Example: `  # Tile a ZIP of slides
  slidetiler run --input slides.zip --output tiles.zip

  # Several inputs in one run
  slidetiler run --input batch1.zip --input extra.svs

  # Tile an upload stored under a temporary name
  slidetiler run --input /tmp/upload-8f2c --original-name "patient 7.svs"

  # Retry the failed images of a previous run
  slidetiler run --input slides.zip --retry-from tiles.zip --output retry.zip`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeRun(cmd, &flags)
		},
	}

	cmd.Flags().StringArrayVarP(&flags.inputs, "input", "i", nil,
		"ZIP archive or slide image to tile (repeatable)")
	cmd.Flags().StringArrayVar(&flags.originalNames, "original-name", nil,
		"original file name of the input at the same position (repeatable)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "",
		"output archive path (default from config, tiles.zip)")
	cmd.Flags().StringVar(&flags.retryFrom, "retry-from", "",
		"previous output archive or manifest.json; only its failed images are tiled")
	cmd.Flags().StringVar(&flags.progress, "progress", string(tui.ModeAuto),
		"progress display: auto, tui, log or none")
	cmd.Flags().StringVar(&flags.strategy, "batch-strategy", "",
		"batch sizing strategy: fraction, cpu or fixed")
	cmd.Flags().Float64Var(&flags.fraction, "batch-fraction", 0,
		"share of the images per batch for the fraction strategy")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0,
		"batch size for the fixed strategy")
	cmd.Flags().StringVar(&flags.timeout, "timeout", "",
		"per-image tiler timeout, e.g. 45m (0 disables)")
	cmd.Flags().BoolVar(&flags.keep, "keep-workspace", false,
		"keep the run workspace for inspection")
	cmd.Flags().BoolVar(&flags.report, "report", false,
		"add report.xlsx to the output archive")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// executeRun runs the pipeline with flags applied on top of the global config.
func executeRun(cmd *cobra.Command, flags *runFlags) error {
	cfg := config.GetGlobalConfig()
	if err := applyRunFlags(cmd, cfg, flags); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("invalid configuration: %w", err)}
	}

	mode, err := tui.ParseMode(flags.progress)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	mode = mode.Resolve(isTerminal(os.Stderr))

	inputs, err := runInputs(flags)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services := pipeline.OpenServices(ctx, cfg)
	defer func() {
		if closeErr := services.Close(); closeErr != nil {
			logger.Warn().Ctx(ctx).Err(closeErr).Msg("closing services failed")
		}
	}()

	opts := pipeline.Options{
		Config:    cfg,
		Inputs:    inputs,
		Output:    flags.output,
		RetryFrom: flags.retryFrom,
	}
	services.Apply(&opts)

	var res *pipeline.Result
	work := func(ctx context.Context, onProgress batch.ProgressCallback) error {
		opts.OnProgress = onProgress
		var runErr error
		res, runErr = pipeline.Run(ctx, opts)
		return runErr
	}

	switch mode {
	case tui.ModeTUI:
		err = tui.RunProgress(ctx, cmd.ErrOrStderr(), "Tiling slides", work)
	case tui.ModeLog:
		err = work(ctx, logProgress(ctx))
	default:
		err = work(ctx, nil)
	}

	if res != nil {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), tui.RenderSummary(tui.RunSummary{
			RunID:    res.RunID,
			Output:   res.Output,
			Location: res.Location,
			Duration: res.Duration(),
			Manifest: res.Manifest,
			Err:      err,
		}, terminalWidth()))
	}

	if err != nil {
		return &ExitError{Code: ExitCode(err), Err: err}
	}
	return nil
}

// applyRunFlags overrides config values with the flags that were set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags *runFlags) error {
	f := cmd.Flags()
	if f.Changed("batch-strategy") {
		cfg.Batch.Strategy = flags.strategy
	}
	if f.Changed("batch-fraction") {
		cfg.Batch.Fraction = flags.fraction
	}
	if f.Changed("batch-size") {
		cfg.Batch.Size = flags.batchSize
	}
	if f.Changed("timeout") {
		d, err := parseDuration(flags.timeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Tiler.Timeout = d
	}
	if f.Changed("keep-workspace") {
		cfg.Workspace.Keep = flags.keep
	}
	if f.Changed("report") {
		cfg.Output.Report = flags.report
	}
	return nil
}

// runInputs pairs every --input with the --original-name at the same position.
func runInputs(flags *runFlags) ([]extract.Input, error) {
	if len(flags.inputs) == 0 {
		return nil, errors.New("at least one --input is required")
	}
	if len(flags.originalNames) > len(flags.inputs) {
		return nil, fmt.Errorf("got %d --original-name values for %d inputs",
			len(flags.originalNames), len(flags.inputs))
	}

	inputs := make([]extract.Input, len(flags.inputs))
	for i, path := range flags.inputs {
		inputs[i] = extract.Input{Path: path}
		if i < len(flags.originalNames) {
			inputs[i].OriginalName = flags.originalNames[i]
		}
	}
	return inputs, nil
}

// logProgress returns a callback that logs each completed batch.
func logProgress(ctx context.Context) batch.ProgressCallback {
	log := logging.FromContext(ctx)
	var (
		mu   sync.Mutex
		last int
	)
	return func(s batch.ProgressSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.ProcessedBatches == last {
			return
		}
		last = s.ProcessedBatches
		log.Info().Ctx(ctx).
			Str("component", "progress").
			Int("batch", s.ProcessedBatches).
			Int("batches", s.TotalBatches).
			Int("processed", s.ProcessedItems).
			Int("total", s.TotalItems).
			Int("failed", s.FailedItems).
			Dur("remaining", s.Remaining).
			Msg("batch completed")
	}
}

// terminalWidth returns the stdout width, or 0 when stdout is not a terminal.
func terminalWidth() int {
	if !isTerminal(os.Stdout) {
		return 0
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return w
}

// defaultToolTimeout is shown by plan and config show when no timeout is set.
const defaultToolTimeout = "none"

// describeTimeout renders a tiler timeout for humans.
func describeTimeout(cfg config.TilerConfig) string {
	if cfg.Timeout <= 0 {
		return defaultToolTimeout
	}
	return cfg.Timeout.String()
}

// commandLine renders the tiler invocation for an example image.
func commandLine(cfg config.TilerConfig, image string) string {
	name, args, _ := pipeline.NewTiler(cfg).CommandLine(tiler.TileRequest{ImagePath: image, OutputDir: "<output>"})
	return shellJoin(append([]string{name}, args...))
}
