package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadscope-ai/verdict/internal/engine"
	"github.com/leadscope-ai/verdict/internal/registry"
	"github.com/leadscope-ai/verdict/internal/workflow"
)

var (
	runInput       string
	runInputFile   string
	runEntity      string
	runSampleTools bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow definition",
	Long: `Run loads a workflow definition from a YAML file, executes it against the
configured engine, and prints the composed result with its trust label.

Tools are normally registered by the embedding application; pass
--sample-tools to install the demo toolset so the files under
examples/workflows run standalone.`,
	Example: `  # Run the lead enrichment example with the demo tools
  verdict run examples/workflows/enrich-lead.yaml \
      --sample-tools --input '{"company_name": "Acme Corp", "domain": "acme.com"}'

  # Read the workflow input from a file and pin the A/B bucketing entity
  verdict run triage.yaml --input-file ticket.json --entity acct-42`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "{}", "workflow input as a JSON object")
	runCmd.Flags().StringVar(&runInputFile, "input-file", "", "read the workflow input from a JSON file")
	runCmd.Flags().StringVar(&runEntity, "entity", "", "entity key for stable A/B variant assignment")
	runCmd.Flags().BoolVar(&runSampleTools, "sample-tools", false, "register the built-in demo toolset")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	def, err := workflow.Load(args[0])
	if err != nil {
		return err
	}

	input, err := readRunInput()
	if err != nil {
		return err
	}

	eng, err := newCLIEngine(runSampleTools)
	if err != nil {
		return err
	}
	defer eng.Close()

	var opts []registry.InvokeOption
	if runEntity != "" {
		opts = append(opts, registry.WithEntity(runEntity))
	}

	dec, err := eng.RunWorkflowDefinition(cmd.Context(), def, input, opts...)
	if err != nil {
		return err
	}
	return printJSON(cmd, dec)
}

func readRunInput() (map[string]any, error) {
	raw := []byte(runInput)
	if runInputFile != "" {
		data, err := os.ReadFile(runInputFile)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		raw = data
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("parsing workflow input: %w", err)
	}
	return input, nil
}

// newCLIEngine builds an engine from the loaded config, optionally with the
// demo toolset registered.
func newCLIEngine(sampleTools bool) (*engine.Engine, error) {
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	if sampleTools {
		if err := registerSampleTools(eng); err != nil {
			eng.Close()
			return nil, err
		}
	}
	return eng, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
