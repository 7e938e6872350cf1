package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leadscope-ai/verdict/internal/workflow"
)

var workflowOutputFormat string

// workflowCmd is the root command for workflow operations.
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect and validate workflow definitions",
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file.yaml>",
	Short: "Validate a workflow definition",
	Long: `Parse a workflow YAML file and run full structural validation:
required fields, execution mode rules, tool references, duplicate IDs and
aliases, dependency references, and cycle detection.

A valid file exits 0; the first validation failure is printed and the
command exits non-zero.`,
	Example: `  # Validate a single workflow file
  verdict workflow validate enrich-lead.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflowValidate,
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows in the configured directory",
	Long: `Load every workflow definition from the configured workflows
directory and print a summary table. Files that fail validation are
reported per file; valid files are still listed.`,
	Example: `  # List workflows from the config's workflows.dir
  verdict workflow list

  # List workflows from an explicit directory
  verdict workflow list --dir ./workflows`,
	RunE: runWorkflowList,
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <file.yaml>",
	Short: "Show a parsed workflow definition",
	Example: `  # Print the normalized definition as YAML
  verdict workflow show enrich-lead.yaml

  # Print as JSON
  verdict workflow show enrich-lead.yaml --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflowShow,
}

var workflowListDir string

func runWorkflowValidate(cmd *cobra.Command, args []string) error {
	def, err := workflow.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d steps, mode %s)\n", def.ID, len(def.Steps), def.Mode)
	return nil
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	dir := workflowListDir
	if dir == "" {
		dir = cfg.Workflows.Dir
	}
	if dir == "" {
		return fmt.Errorf("no workflow directory: pass --dir or set workflows.dir in config")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTEPS\tTIMEOUT\tFILE")
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		def, err := workflow.Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", entry.Name(), err)
			continue
		}
		timeout := "-"
		if def.Timeout > 0 {
			timeout = def.Timeout.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", def.ID, def.Mode, len(def.Steps), timeout, entry.Name())
	}
	return w.Flush()
}

func runWorkflowShow(cmd *cobra.Command, args []string) error {
	def, err := workflow.Load(args[0])
	if err != nil {
		return err
	}

	var out []byte
	switch workflowOutputFormat {
	case "json":
		out, err = json.MarshalIndent(def, "", "  ")
	case "yaml":
		out, err = yaml.Marshal(def)
	default:
		return fmt.Errorf("unknown output format %q (expected yaml or json)", workflowOutputFormat)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func init() {
	rootCmd.AddCommand(workflowCmd)

	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowShowCmd)

	workflowListCmd.Flags().StringVar(&workflowListDir, "dir", "", "Workflow directory (defaults to workflows.dir from config)")
	workflowShowCmd.Flags().StringVarP(&workflowOutputFormat, "output", "o", "yaml", "Output format: yaml or json")
}
