package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rshade/slidetiler/internal/config"
	"github.com/rshade/slidetiler/internal/history"
	"github.com/rshade/slidetiler/internal/logging"
	"github.com/rshade/slidetiler/internal/tui"
)

// tabPadding is the minimum column padding for tabwriter output.
const tabPadding = 2

// timeLayout is used for run times in tables.
const timeLayout = "2006-01-02 15:04:05"

// errHistoryDisabled is returned when history.enabled is false.
var errHistoryDisabled = errors.New("run history is disabled (history.enabled: false)")

// newHistoryCmd creates the history command group.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Inspect previous runs"}
	cmd.AddCommand(newHistoryListCmd(), newHistoryShowCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var (
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Example: `  # Last 20 runs
  slidetiler history list

  # Last 5 runs as JSON
  slidetiler history list --limit 5 --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(ctx, limit)
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}
			logging.FromContext(ctx).Debug().Ctx(ctx).
				Str("component", "cli").
				Int("runs", len(runs)).
				Msg("history listed")

			switch output {
			case "json":
				return writeJSON(cmd, runs)
			case "table":
				if len(runs) == 0 {
					cmd.Println("No runs recorded yet.")
					return nil
				}
				return renderRunsTable(cmd, runs)
			default:
				return fmt.Errorf("unsupported output format: %s", output)
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().StringVar(&output, "output", "table", "Output format: table, json")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its per-image outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			switch output {
			case "json":
				return writeJSON(cmd, run)
			case "table":
				return renderRun(cmd, run)
			default:
				return fmt.Errorf("unsupported output format: %s", output)
			}
		},
	}

	cmd.Flags().StringVar(&output, "output", "table", "Output format: table, json")
	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	cfg := config.GetGlobalConfig()
	if !cfg.History.Enabled {
		return nil, errHistoryDisabled
	}
	store, err := history.Open(cmd.Context(), cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	return store, nil
}

func renderRunsTable(cmd *cobra.Command, runs []history.Run) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabPadding, ' ', 0)

	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tIMAGES\tFAILED\tTILES\tDURATION")
	fmt.Fprintln(tw, "------\t-------\t------\t------\t------\t-----\t--------")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(timeLayout),
			r.Status,
			r.Total,
			r.Failed,
			tui.FormatCount(r.Tiles),
			tui.FormatDuration(r.Duration()),
		)
	}
	return tw.Flush()
}

func renderRun(cmd *cobra.Command, run history.Run) error {
	cmd.Printf("Run %s (%s)\n", run.ID, run.Status)
	cmd.Printf("  Started:  %s\n", run.StartedAt.Local().Format(timeLayout))
	cmd.Printf("  Duration: %s\n", tui.FormatDuration(run.Duration()))
	cmd.Printf("  Inputs:   %s\n", strings.Join(run.Inputs, ", "))
	if run.Output != "" {
		cmd.Printf("  Output:   %s\n", run.Output)
	}
	if run.Strategy != "" {
		cmd.Printf("  Batches:  %d x %d (%s)\n", run.Batches, run.BatchSize, run.Strategy)
	}
	if run.Error != "" {
		cmd.Printf("  Error:    %s\n", run.Error)
	}
	if len(run.Images) == 0 {
		return nil
	}

	cmd.Println()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, "IMAGE\tSTATUS\tTILES\tDURATION\tREASON\tSOURCE")
	fmt.Fprintln(tw, "-----\t------\t-----\t--------\t------\t------")
	for _, img := range run.Images {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			img.Name,
			img.Status,
			img.Tiles,
			tui.FormatDuration(img.Duration),
			img.Reason,
			img.Source,
		)
	}
	return tw.Flush()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
