package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration the engine would run with: the config file
(if any) overlaid on built-in defaults, after environment variable
interpolation and validation.`,
	Example: `  # Defaults only
  verdict config show

  # With a config file
  verdict config show --config verdict.yaml`,
	RunE: runConfigShow,
}

var configCheckCmd = &cobra.Command{
	Use:   "check <file.yaml>",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigCheck,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	loader := newConfigLoader()
	if _, err := loader.Load(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCheckCmd)
}
