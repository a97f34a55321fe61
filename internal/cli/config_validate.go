package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rshade/slidetiler/internal/config"
)

// NewConfigValidateCmd creates the config validate command for validating configuration.
func NewConfigValidateCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long: `Validates the effective configuration: ~/.slidetiler/config.yaml, the
--config overlay and SLIDETILER_* environment variables.

This includes:
- Batch strategy, fraction and size
- Tiler command and timeouts
- Recognized image extensions
- Log format
- Publish and notify targets when enabled

It also warns when the tiler command cannot be found on PATH.`,
		Example: `  # Validate current configuration
  slidetiler config validate

  # Validate and show detailed information
  slidetiler config validate --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigValidate(cmd, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed validation information")

	return cmd
}

// runConfigValidate executes the configuration validation logic.
func runConfigValidate(cmd *cobra.Command, verbose bool) error {
	cfg := config.GetGlobalConfig()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if _, err := exec.LookPath(cfg.Tiler.Command); err != nil {
		cmd.Printf("Warning: tiler command %q not found on PATH\n", cfg.Tiler.Command)
	}
	cmd.Printf("Configuration is valid\n")

	if verbose {
		printVerboseDetails(cmd, cfg)
	}

	return nil
}

// printVerboseDetails prints detailed configuration information.
func printVerboseDetails(cmd *cobra.Command, cfg *config.Config) {
	cmd.Println()
	cmd.Println("Configuration details:")
	cmd.Printf("  Config file: %s\n", cfg.ConfigPath())
	cmd.Printf("  Tiler: %s\n", commandLine(cfg.Tiler, "<image>"))
	cmd.Printf("  Timeout per image: %s\n", describeTimeout(cfg.Tiler))
	cmd.Printf("  Batch strategy: %s\n", cfg.Batch.Strategy)
	cmd.Printf("  Extensions: %s\n", strings.Join(cfg.Input.Extensions, ", "))
	cmd.Printf("  Workspace root: %s\n", cfg.Workspace.Root)
	cmd.Printf("  Logging level: %s\n", cfg.Logging.Level)
	cmd.Printf("  Log file: %s\n", cfg.Logging.File)
	cmd.Printf("  History: %s\n", enabled(cfg.History.Enabled, cfg.History.Path))
	cmd.Printf("  Publish (S3): %s\n", enabled(cfg.Publish.S3.Enabled, cfg.Publish.S3.Endpoint+"/"+cfg.Publish.S3.Bucket))
	cmd.Printf("  Notify (Kafka): %s\n", enabled(cfg.Notify.Kafka.Enabled, cfg.Notify.Kafka.Topic))
}

func enabled(on bool, detail string) string {
	if !on {
		return "disabled"
	}
	return detail
}

// NewConfigShowCmd creates the config show command that prints the effective configuration.
func NewConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long: `Prints the configuration after merging ~/.slidetiler/config.yaml, the
--config overlay and SLIDETILER_* environment variables. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *config.GetGlobalConfig()
			if cfg.Publish.S3.SecretKey != "" {
				cfg.Publish.S3.SecretKey = "********"
			}

			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return fmt.Errorf("marshalling configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
