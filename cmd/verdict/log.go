package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leadscope-ai/verdict/internal/decisionlog"
)

var (
	logTool   string
	logLimit  int
	logAsJSON bool
	logDBPath string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Read the decision audit log",
}

var logListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent decision records",
	Long: `Read the most recent decision records from the SQLite decision log,
newest first. The engine only ever appends to the log; this command is the
read side for audits and debugging.`,
	Example: `  # Last 20 decisions
  verdict log list

  # Decisions for one tool, as JSON
  verdict log list --tool score_lead --limit 50 --json`,
	RunE: runLogList,
}

func runLogList(cmd *cobra.Command, args []string) error {
	path := logDBPath
	if path == "" {
		path = cfg.DecisionLog.Path
	}
	if cfg.DecisionLog.Sink != "sqlite" && logDBPath == "" {
		return fmt.Errorf("decision log sink is %q; log list reads sqlite (pass --db)", cfg.DecisionLog.Sink)
	}

	records, err := decisionlog.ReadRecent(path, logTool, logLimit)
	if err != nil {
		return err
	}

	if logAsJSON {
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tTOOL\tVERSION\tOK\tCONF\tLATENCY\tVARIANT\tERROR")
	for _, rec := range records {
		ok := "yes"
		if !rec.Success {
			ok = "no"
		}
		variant := rec.ABVariant
		if variant == "" {
			variant = "-"
		}
		errText := rec.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.ToolName, rec.RuleVersion, ok, rec.Confidence,
			rec.Latency, variant, errText)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logListCmd)

	logListCmd.Flags().StringVar(&logTool, "tool", "", "Filter by tool name")
	logListCmd.Flags().IntVar(&logLimit, "limit", 20, "Maximum records to return")
	logListCmd.Flags().BoolVar(&logAsJSON, "json", false, "Emit records as JSON")
	logListCmd.Flags().StringVar(&logDBPath, "db", "", "SQLite path (defaults to decision_log.path from config)")
}
