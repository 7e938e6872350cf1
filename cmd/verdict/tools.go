package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsSampleTools bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools",
	Long: `Tools prints every registered tool version with its kind and SLA. The CLI
process registers no tools by default; pass --sample-tools to inspect the
demo toolset.`,
	Example: `  verdict tools --sample-tools`,
	RunE:    runTools,
}

var toolsDescribeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Describe every registered version of a tool",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsDescribe,
}

func runTools(cmd *cobra.Command, args []string) error {
	eng, err := newCLIEngine(toolsSampleTools)
	if err != nil {
		return err
	}
	defer eng.Close()

	tools := eng.Tools()
	if len(tools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no tools registered")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tKIND\tSLA\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Name, t.Version, t.Kind, t.SLA, t.Description)
	}
	return w.Flush()
}

func runToolsDescribe(cmd *cobra.Command, args []string) error {
	eng, err := newCLIEngine(toolsSampleTools)
	if err != nil {
		return err
	}
	defer eng.Close()

	descs, err := eng.Registry().Describe(args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, descs)
}

func init() {
	toolsCmd.PersistentFlags().BoolVar(&toolsSampleTools, "sample-tools", false, "register the built-in demo toolset")
	toolsCmd.AddCommand(toolsDescribeCmd)
	rootCmd.AddCommand(toolsCmd)
}
