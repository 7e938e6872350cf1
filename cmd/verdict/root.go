package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leadscope-ai/verdict/internal/config"
)

var (
	configPath string

	// cfg is populated by the persistent pre-run and shared by subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "verdict",
	Short: "Verdict - decision tool orchestration",
	Long: `Verdict orchestrates decision tools: validated invocation with circuit
breaking, multi-step workflows, and an append-only decision audit log.

The CLI covers the operator surface: running and validating workflow
definitions, listing tools, checking breaker health and effective
configuration, and reading the decision log.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func newConfigLoader() config.Loader {
	return config.NewLoader(config.NewValidator())
}

// loadConfig resolves configuration before any subcommand runs. Without
// --config the defaults apply, so every command works out of the box.
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := newConfigLoader().LoadWithDefaults(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
}
