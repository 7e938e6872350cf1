package workflow

import (
	"time"

	"github.com/leadscope-ai/verdict/internal/tool"
	"github.com/leadscope-ai/verdict/internal/types"
)

// StepResult is the per-step outcome of a workflow run.
type StepResult struct {
	StepID string `json:"step_id"`
	Alias  string `json:"alias"`
	Tool   string `json:"tool"`

	// Kind is the invoked tool version's kind, carried from the invocation so
	// trust labeling reflects the version that actually ran, not whatever is
	// latest at labeling time. Empty when the step never invoked a tool.
	Kind tool.Kind `json:"kind,omitempty"`

	Output     map[string]any `json:"output,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`

	// Evidence passes the invoked tool's citations through unmodified.
	Evidence []tool.Citation `json:"evidence,omitempty"`

	Success bool `json:"success"`

	// Skipped is true when the step's condition evaluated false or its
	// fallback primary succeeded. A skipped step was never invoked and never
	// counts toward breaker or required-failure logic.
	Skipped bool `json:"skipped,omitempty"`

	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`

	// BatchIndex is the input index for batch_parallel steps; -1 otherwise.
	BatchIndex int `json:"batch_index,omitempty"`
}

// Result is the complete outcome of a workflow run. Steps is keyed by alias
// so the assembly is deterministic regardless of physical completion order.
type Result struct {
	WorkflowID string   `json:"workflow_id"`
	RunID      types.ID `json:"run_id"`
	Status     Status   `json:"status"`

	// Steps holds every step outcome keyed by alias. Batch items are keyed
	// "alias[index]".
	Steps map[string]*StepResult `json:"steps"`

	// Output is the composed result per the definition's output mapping.
	// Without a mapping it holds each alias's raw output.
	Output map[string]any `json:"output,omitempty"`

	StepsExecuted int `json:"steps_executed"`
	StepsFailed   int `json:"steps_failed"`
	StepsSkipped  int `json:"steps_skipped"`

	Duration time.Duration      `json:"duration"`
	Err      *types.EngineError `json:"error,omitempty"`
}

// Step returns the result for an alias, or nil.
func (r *Result) Step(alias string) *StepResult {
	if r.Steps == nil {
		return nil
	}
	return r.Steps[alias]
}

// Succeeded reports whether the run completed without aborting.
func (r *Result) Succeeded() bool {
	return r.Status == StatusCompleted
}
