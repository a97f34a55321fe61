package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshade/slidetiler/internal/config"
	"github.com/rshade/slidetiler/internal/extract"
	"github.com/rshade/slidetiler/internal/history"
)

// NewCleanCmd creates the clean command that removes stale run workspaces and,
// optionally, old run history.
func NewCleanCmd() *cobra.Command {
	var (
		olderThan        time.Duration
		historyOlderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale workspaces and old run history",
		Long: `Removes run workspaces left behind by interrupted runs. Workspaces are
removed once they are older than workspace.retention (default 24h); use
--older-than 0 to remove every workspace not in use.

With --history-older-than, runs recorded before that age are deleted from the
run history as well.`,
		Example: `  # Remove stale workspaces
  slidetiler clean

  # Also forget runs older than 30 days
  slidetiler clean --history-older-than 720h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := config.GetGlobalConfig()

			retention := cfg.Workspace.Retention
			if cmd.Flags().Changed("older-than") {
				retention = olderThan
			}

			removed, err := extract.SweepStale(ctx, cfg.Workspace.Root, retention)
			if err != nil {
				return fmt.Errorf("removing stale workspaces: %w", err)
			}
			cmd.Printf("Removed %d stale workspace(s) from %s\n", removed, cfg.Workspace.Root)

			if historyOlderThan <= 0 {
				return nil
			}
			if !cfg.History.Enabled {
				cmd.Println("Run history is disabled; nothing to prune.")
				return nil
			}

			store, err := history.Open(ctx, cfg.History.Path)
			if err != nil {
				return fmt.Errorf("opening run history: %w", err)
			}
			defer store.Close()

			pruned, err := store.Prune(ctx, time.Now().Add(-historyOlderThan))
			if err != nil {
				return fmt.Errorf("pruning run history: %w", err)
			}
			cmd.Printf("Removed %d run(s) from history\n", pruned)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0,
		"remove workspaces older than this (default workspace.retention)")
	cmd.Flags().DurationVar(&historyOlderThan, "history-older-than", 0,
		"also delete runs recorded before this age")
	return cmd
}
