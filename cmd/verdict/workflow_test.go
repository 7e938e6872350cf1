package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWorkflow = `
id: enrich-lead
name: Enrich lead
execution_mode: sequential
timeout: 30s
steps:
  - id: s1
    tool_ref: enrich_company
    alias: enrich
    required: true
    input_mapping:
      name: "${input.company_name}"
  - id: s2
    tool_ref: score_lead
    alias: score
    depends_on: [s1]
    input_mapping:
      employee_count: "${enrich.output.employee_count}"
output_mapping:
  score: "${score.output.value}"
`

func writeWorkflowFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestWorkflowValidateCommand(t *testing.T) {
	path := writeWorkflowFile(t, "enrich.yaml", sampleWorkflow)

	out, err := execute(t, "workflow", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "enrich-lead: valid")
	assert.Contains(t, out, "2 steps")
}

func TestWorkflowValidateCommandRejectsCycle(t *testing.T) {
	path := writeWorkflowFile(t, "cycle.yaml", `
id: cyclic
execution_mode: sequential
steps:
  - id: a
    tool_ref: t1
    depends_on: [b]
  - id: b
    tool_ref: t2
    depends_on: [a]
`)

	_, err := execute(t, "workflow", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestWorkflowShowCommandJSON(t *testing.T) {
	path := writeWorkflowFile(t, "enrich.yaml", sampleWorkflow)

	out, err := execute(t, "workflow", "show", path, "--output", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"enrich-lead"`)
	assert.Contains(t, out, `"sequential"`)
}

func TestWorkflowListCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "enrich.yaml"), []byte(sampleWorkflow), 0o644))

	out, err := execute(t, "workflow", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "enrich-lead")
	assert.Contains(t, out, "sequential")
}

func TestConfigShowCommand(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "decision_log")
	assert.Contains(t, out, "breaker")
}
