package workflow

import (
	"time"
)

// Mode selects how a workflow's steps are scheduled.
type Mode string

const (
	// ModeSequential runs steps strictly in declaration order.
	ModeSequential Mode = "sequential"

	// ModeParallel launches every step whose dependencies are met, bounded by
	// the engine's worker pool.
	ModeParallel Mode = "parallel"

	// ModeConditional evaluates each step's condition expression against
	// already-completed step outputs before launch; false means the step is
	// skipped and never invoked.
	ModeConditional Mode = "conditional"

	// ModeFallback runs a step only if its designated primary step failed.
	ModeFallback Mode = "fallback"

	// ModeBatchParallel applies a single step template to a sequence of
	// inputs with concurrency capped at MaxConcurrency.
	ModeBatchParallel Mode = "batch_parallel"
)

// IsValid reports whether the mode is one of the supported execution modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeConditional, ModeFallback, ModeBatchParallel:
		return true
	}
	return false
}

// OnError selects how a step failure is handled.
type OnError string

const (
	// OnErrorFail propagates the failure; a required step aborts the workflow.
	OnErrorFail OnError = "fail"

	// OnErrorSkip records the failure and continues with remaining steps.
	OnErrorSkip OnError = "skip"

	// OnErrorFallbackValue substitutes the step's FallbackValue as its output
	// and continues as if the step succeeded.
	OnErrorFallbackValue OnError = "fallback_value"
)

// IsValid reports whether the policy is one of the supported values. The
// empty policy is valid and means fail.
func (o OnError) IsValid() bool {
	switch o {
	case "", OnErrorFail, OnErrorSkip, OnErrorFallbackValue:
		return true
	}
	return false
}

// Status represents the state of a workflow run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for completed, aborted, and cancelled.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusCancelled:
		return true
	}
	return false
}

// Definition describes a workflow: which tools run, in what order, and how
// their outputs compose into the final result. Definitions are loaded from
// configuration and are immutable during execution.
type Definition struct {
	// ID uniquely identifies the workflow definition.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description provides additional context.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Mode selects the scheduling strategy.
	Mode Mode `json:"execution_mode" yaml:"execution_mode"`

	// Timeout bounds the whole run. Zero means no workflow-level deadline;
	// individual tool SLAs still apply.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"-"`

	// MaxConcurrency caps in-flight items for batch_parallel mode.
	MaxConcurrency int `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`

	// Steps are the units of work, in declaration order.
	Steps []Step `json:"steps" yaml:"steps"`

	// OutputMapping composes the final result: output field name to a
	// ${alias.output.field} expression over step aliases.
	OutputMapping map[string]string `json:"output_mapping,omitempty" yaml:"output_mapping,omitempty"`
}

// StepByAlias returns the step with the given alias, or nil.
func (d *Definition) StepByAlias(alias string) *Step {
	for i := range d.Steps {
		if d.Steps[i].EffectiveAlias() == alias {
			return &d.Steps[i]
		}
	}
	return nil
}

// StepByID returns the step with the given ID, or nil.
func (d *Definition) StepByID(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// FallbackStepFor returns the step designated as fallback for the given
// primary step ID, or nil when the primary has no designated fallback.
func (d *Definition) FallbackStepFor(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].FallbackFor == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// Step is a single unit of work inside a workflow.
type Step struct {
	// ID uniquely identifies the step within the definition.
	ID string `json:"id" yaml:"id"`

	// ToolRef names the tool to invoke as "name" or "name@version".
	ToolRef string `json:"tool_ref" yaml:"tool_ref"`

	// Alias keys this step's result for mappings and output assembly.
	// Defaults to ID when empty.
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`

	// Required marks the step as load-bearing: its failure aborts the
	// workflow unless OnError says otherwise.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// ConditionExpr, when set, gates the step. Evaluated against prior step
	// results; false means the step is skipped and never invoked.
	ConditionExpr string `json:"condition_expr,omitempty" yaml:"condition_expr,omitempty"`

	// InputMapping builds the tool input: field name to a literal value or a
	// ${alias.output.field} expression over prior aliases.
	InputMapping map[string]any `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`

	// DependsOn lists step IDs that must complete before this step starts.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// OnError selects the failure policy. Defaults to fail.
	OnError OnError `json:"on_error,omitempty" yaml:"on_error,omitempty"`

	// FallbackValue is the substitute output for on_error: fallback_value.
	FallbackValue map[string]any `json:"fallback_value,omitempty" yaml:"fallback_value,omitempty"`

	// FallbackFor names the primary step this step backs in fallback mode.
	// The step runs only if the primary failed.
	FallbackFor string `json:"fallback_for,omitempty" yaml:"fallback_for,omitempty"`
}

// EffectiveAlias returns the alias, falling back to the step ID.
func (s *Step) EffectiveAlias() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.ID
}

// ErrorPolicy returns the failure policy, defaulting to fail.
func (s *Step) ErrorPolicy() OnError {
	if s.OnError == "" {
		return OnErrorFail
	}
	return s.OnError
}

// ToolName splits ToolRef into its name component.
func (s *Step) ToolName() string {
	name, _ := splitToolRef(s.ToolRef)
	return name
}

// ToolVersion splits ToolRef into its version component; empty means latest.
func (s *Step) ToolVersion() string {
	_, version := splitToolRef(s.ToolRef)
	return version
}

func splitToolRef(ref string) (name, version string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '@' {
			return ref[:i], ref[i+1:]
		}
	}
	return ref, ""
}
