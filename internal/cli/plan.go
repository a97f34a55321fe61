package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rshade/slidetiler/internal/config"
	"github.com/rshade/slidetiler/internal/extract"
	"github.com/rshade/slidetiler/internal/pipeline"
	"github.com/rshade/slidetiler/internal/slide"
	"github.com/rshade/slidetiler/internal/tui"
)

// NewPlanCmd creates the plan command that prints batch boundaries without
// running the tiler.
func NewPlanCmd() *cobra.Command {
	var (
		count         int
		inputs        []string
		originalNames []string
		strategy      string
		fraction      float64
		size          int
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show how images would be split into batches",
		Example: `  # Batches for 20 images with the configured strategy
  slidetiler plan --count 20

  # Batches for the images of an archive
  slidetiler plan --input slides.zip

  # Try another strategy
  slidetiler plan --count 20 --batch-strategy fixed --batch-size 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetGlobalConfig()
			if cmd.Flags().Changed("batch-strategy") {
				cfg.Batch.Strategy = strategy
			}
			if cmd.Flags().Changed("batch-fraction") {
				cfg.Batch.Fraction = fraction
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Batch.Size = size
			}

			var names []string
			switch {
			case len(inputs) > 0:
				tasks, err := planInputs(cmd, cfg, inputs, originalNames)
				if err != nil {
					return &ExitError{Code: ExitCode(err), Err: err}
				}
				for _, t := range tasks {
					names = append(names, t.Name)
				}
				count = len(names)
			case count <= 0:
				return &ExitError{Code: ExitFailure, Err: errors.New("either --count (> 0) or --input is required")}
			}

			sizer, plan, err := pipeline.Plan(cfg.Batch, count)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			printPlan(cmd.OutOrStdout(), sizer.String(), count, plan, names)
			cmd.Printf("Tiler: %s\n", commandLine(cfg.Tiler, "<image>"))
			cmd.Printf("Timeout per image: %s\n", describeTimeout(cfg.Tiler))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of images")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "ZIP archive or slide image (repeatable)")
	cmd.Flags().StringArrayVar(&originalNames, "original-name", nil, "original file name of the input at the same position")
	cmd.Flags().StringVar(&strategy, "batch-strategy", "", "batch sizing strategy: fraction, cpu or fixed")
	cmd.Flags().Float64Var(&fraction, "batch-fraction", 0, "share of the images per batch for the fraction strategy")
	cmd.Flags().IntVar(&size, "batch-size", 0, "batch size for the fixed strategy")
	cmd.MarkFlagsMutuallyExclusive("count", "input")

	return cmd
}

// planInputs extracts the inputs into a throwaway workspace to learn the
// image names.
func planInputs(cmd *cobra.Command, cfg *config.Config, paths, originalNames []string) ([]*slide.ImageTask, error) {
	inputs, err := runInputs(&runFlags{inputs: paths, originalNames: originalNames})
	if err != nil {
		return nil, err
	}

	ex := extract.New(cfg.Workspace.Root)
	ex.Extensions = cfg.Input.Extensions
	ex.MaxEntrySize = cfg.Input.MaxEntrySize

	ws, tasks, err := ex.Extract(cmd.Context(), inputs)
	if err != nil {
		return nil, err
	}
	if closeErr := ws.Close(); closeErr != nil {
		logger.Warn().Ctx(cmd.Context()).Err(closeErr).Msg("workspace cleanup failed")
	}
	return tasks, nil
}

// maxPlanNames limits the image names listed per batch.
const maxPlanNames = 6

func printPlan(w io.Writer, strategy string, count int, plan [][2]int, names []string) {
	size := 0
	if len(plan) > 0 {
		size = plan[0][1] - plan[0][0]
	}
	_, _ = fmt.Fprintf(w, "%s images, strategy %s, batch size %d, %d batches\n",
		tui.FormatCount(count), strategy, size, len(plan))

	for i, b := range plan {
		line := fmt.Sprintf("  batch %d: images %d-%d (%d)", i+1, b[0]+1, b[1], b[1]-b[0])
		if len(names) >= b[1] {
			batchNames := names[b[0]:b[1]]
			if len(batchNames) > maxPlanNames {
				batchNames = append(batchNames[:maxPlanNames:maxPlanNames], "...")
			}
			line += ": " + strings.Join(batchNames, ", ")
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
