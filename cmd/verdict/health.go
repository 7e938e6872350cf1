package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var healthSampleTools bool

var healthCmd = &cobra.Command{
	Use:   "health [tool]",
	Short: "Show tool health and circuit breaker state",
	Long: `Health reports the circuit breaker state for every tracked tool, or the
health status of a single tool when a name is given. A tool whose circuit
is open is reported as unhealthy with the time it may next be probed.`,
	Example: `  verdict health --sample-tools
  verdict health score_lead --sample-tools`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	eng, err := newCLIEngine(healthSampleTools)
	if err != nil {
		return err
	}
	defer eng.Close()

	if len(args) == 1 {
		status := eng.Health(cmd.Context(), args[0])
		return printJSON(cmd, status)
	}

	stats := eng.BreakerStats()
	fmt.Fprintf(cmd.OutOrStdout(), "circuits: %d total, %d closed, %d open, %d half-open\n\n",
		stats.Total, stats.ClosedCount, stats.OpenCount, stats.HalfOpenCount)

	if len(stats.Tools) == 0 {
		return nil
	}

	keys := make([]string, 0, len(stats.Tools))
	for key := range stats.Tools {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tSTATE\tFAILURES\tOPENED_AT\tLAST_FAILURE")
	for _, key := range keys {
		circuit := stats.Tools[key]
		opened, lastFailure := "-", "-"
		if !circuit.OpenedAt.IsZero() {
			opened = circuit.OpenedAt.Format("15:04:05")
		}
		if !circuit.LastFailure.IsZero() {
			lastFailure = circuit.LastFailure.Format("15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", key, circuit.State, circuit.Failures, opened, lastFailure)
	}
	return w.Flush()
}

func init() {
	healthCmd.Flags().BoolVar(&healthSampleTools, "sample-tools", false, "register the built-in demo toolset")
	rootCmd.AddCommand(healthCmd)
}
