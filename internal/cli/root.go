package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/slidetiler/internal/config"
	"github.com/rshade/slidetiler/internal/logging"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// NewRootCmd creates the root Cobra command for the slidetiler CLI.
// It wires up configuration, logging and tracing, and the run, plan,
// history, clean and config subcommands.
func NewRootCmd(ver string) *cobra.Command {
	return NewRootCmdWithEnv(ver, os.LookupEnv)
}

// NewRootCmdWithEnv creates the root command with an explicit env lookup for testability.
func NewRootCmdWithEnv(ver string, lookupEnv func(string) (string, bool)) *cobra.Command {
	var logResult *logging.LogPathResult

	cmd := &cobra.Command{
		Use:     "slidetiler",
		Short:   "Batch tiling of whole-slide images",
		Long:    "slidetiler: Tile pathology whole-slide images in batches with PyHIST and collect the tiles in one archive",
		Version: ver,
		Example: rootCmdExample,
		// Fatal errors are reported once by main with their exit code.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(cmd, lookupEnv); err != nil {
				return err
			}

			result := setupLogging(cmd, lookupEnv)
			logResult = &result
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return cleanupLogging(cmd, logResult)
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().String("config", "", "overlay configuration file merged on top of ~/.slidetiler/config.yaml")
	cmd.AddCommand(
		NewRunCmd(),
		NewPlanCmd(),
		newHistoryCmd(),
		NewCleanCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadConfig builds the global configuration: defaults, the user config file,
// the --config overlay, then environment variables. Command flags are applied
// later by each command.
func loadConfig(cmd *cobra.Command, lookupEnv func(string) (string, bool)) error {
	cfg := config.Default()
	if err := cfg.Load(); err != nil {
		return err
	}

	if overlay, _ := cmd.Flags().GetString("config"); overlay != "" {
		if err := config.MergeYAMLFile(cfg, overlay); err != nil {
			return fmt.Errorf("loading --config: %w", err)
		}
	}

	cfg.ApplyEnv(lookupEnv)
	config.SetGlobalConfig(cfg)
	return nil
}

const rootCmdExample = `  # Tile every slide in an archive
  slidetiler run --input slides.zip --output tiles.zip

  # Tile an upload stored under a temporary name
  slidetiler run --input /tmp/upload-8f2c --original-name "patient 7.svs"

  # Retry only the images that failed last time
  slidetiler run --input slides.zip --retry-from tiles.zip --output retry.zip

  # Show how 20 images would be batched
  slidetiler plan --count 20

  # List recent runs
  slidetiler history list

  # Remove stale workspaces and old history
  slidetiler clean --history-older-than 720h

  # Initialize configuration
  slidetiler config init`

// newConfigCmd creates the config command group with configuration subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	cmd.AddCommand(NewConfigInitCmd(), NewConfigShowCmd(), NewConfigValidateCmd())
	return cmd
}
