package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeMemorySinkConfig returns a config file that keeps decision records
// in memory so tests leave no database files behind.
func writeMemorySinkConfig(t *testing.T) string {
	t.Helper()
	t.Cleanup(func() { configPath = "" })
	return writeWorkflowFile(t, "config.yaml", `
decision_log:
  sink: memory
`)
}

func TestRunCommandExecutesWorkflow(t *testing.T) {
	cfgPath := writeMemorySinkConfig(t)
	wfPath := writeWorkflowFile(t, "enrich.yaml", sampleWorkflow)

	out, err := execute(t, "--config", cfgPath, "run", wfPath,
		"--sample-tools", "--input", `{"company_name": "Acme Corp"}`)
	require.NoError(t, err)

	var dec struct {
		Result struct {
			Status string         `json:"status"`
			Output map[string]any `json:"output"`
		} `json:"result"`
		Trust struct {
			Tier string `json:"autonomy_tier"`
		} `json:"trust"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &dec))
	assert.Equal(t, "completed", dec.Result.Status)
	assert.Contains(t, dec.Result.Output, "score")
	assert.NotEmpty(t, dec.Trust.Tier)
}

func TestRunCommandRejectsBadInput(t *testing.T) {
	cfgPath := writeMemorySinkConfig(t)
	wfPath := writeWorkflowFile(t, "enrich.yaml", sampleWorkflow)

	_, err := execute(t, "--config", cfgPath, "run", wfPath,
		"--sample-tools", "--input", "not-json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing workflow input")
}

func TestToolsCommandListsSampleToolset(t *testing.T) {
	cfgPath := writeMemorySinkConfig(t)

	out, err := execute(t, "--config", cfgPath, "tools", "--sample-tools")
	require.NoError(t, err)
	assert.Contains(t, out, "score_lead")
	assert.Contains(t, out, "1.2.0")
	assert.Contains(t, out, "DELEGATED")
}

func TestToolsCommandEmptyRegistry(t *testing.T) {
	cfgPath := writeMemorySinkConfig(t)

	out, err := execute(t, "--config", cfgPath, "tools", "--sample-tools=false")
	require.NoError(t, err)
	assert.Contains(t, out, "no tools registered")
}

func TestHealthCommandSummary(t *testing.T) {
	cfgPath := writeMemorySinkConfig(t)

	out, err := execute(t, "--config", cfgPath, "health", "--sample-tools")
	require.NoError(t, err)
	assert.Contains(t, out, "circuits: 0 total")
}
