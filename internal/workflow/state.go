package workflow

import (
	"sync"
	"time"

	"github.com/leadscope-ai/verdict/internal/types"
)

// stepStatus tracks a single step's scheduling state during a run.
type stepStatus string

const (
	stepPending   stepStatus = "pending"
	stepRunning   stepStatus = "running"
	stepCompleted stepStatus = "completed"
	stepFailed    stepStatus = "failed"
	stepSkipped   stepStatus = "skipped"
)

// runState is the per-run mutable state of a workflow execution. Results are
// keyed by alias so assembly is independent of completion order. All methods
// are safe for concurrent use by the parallel modes.
type runState struct {
	runID     types.ID
	def       *Definition
	startedAt time.Time

	mu       sync.RWMutex
	statuses map[string]stepStatus  // keyed by step ID
	results  map[string]*StepResult // keyed by alias

	// effective holds the output that downstream mappings see per alias.
	// Normally the step's own output; for a failed primary covered by a
	// successful fallback, the fallback's output.
	effective map[string]*StepResult
}

func newRunState(def *Definition) *runState {
	statuses := make(map[string]stepStatus, len(def.Steps))
	for i := range def.Steps {
		statuses[def.Steps[i].ID] = stepPending
	}
	return &runState{
		runID:     types.NewID(),
		def:       def,
		startedAt: time.Now(),
		statuses:  statuses,
		results:   make(map[string]*StepResult, len(def.Steps)),
		effective: make(map[string]*StepResult, len(def.Steps)),
	}
}

// readySteps returns pending steps whose dependencies have all completed
// successfully (or been covered by a fallback).
func (rs *runState) readySteps() []*Step {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var ready []*Step
	for i := range rs.def.Steps {
		step := &rs.def.Steps[i]
		if rs.statuses[step.ID] != stepPending {
			continue
		}
		if rs.dependenciesMetLocked(step) {
			ready = append(ready, step)
		}
	}
	return ready
}

func (rs *runState) dependenciesMetLocked(step *Step) bool {
	for _, dep := range step.DependsOn {
		if rs.statuses[dep] != stepCompleted {
			return false
		}
	}
	return true
}

// dependenciesResolved reports whether every dependency reached a terminal
// state, regardless of outcome. Used to decide between waiting and giving up.
func (rs *runState) dependenciesResolved(step *Step) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, dep := range step.DependsOn {
		switch rs.statuses[dep] {
		case stepPending, stepRunning:
			return false
		}
	}
	return true
}

func (rs *runState) markRunning(stepID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.statuses[stepID] = stepRunning
}

func (rs *runState) markCompleted(step *Step, result *StepResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.statuses[step.ID] = stepCompleted
	rs.results[result.Alias] = result
	rs.effective[result.Alias] = result
}

func (rs *runState) markFailed(step *Step, result *StepResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.statuses[step.ID] = stepFailed
	rs.results[result.Alias] = result
}

func (rs *runState) markSkipped(step *Step, alias string, batchIndex int, reason string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.statuses[step.ID] = stepSkipped
	rs.results[alias] = &StepResult{
		StepID:     step.ID,
		Alias:      alias,
		Tool:       step.ToolName(),
		Skipped:    true,
		Error:      reason,
		BatchIndex: batchIndex,
	}
}

// coverFallback makes a successful fallback's output the effective result
// for the failed primary's alias, so downstream mappings and the output
// assembly see the substitute.
func (rs *runState) coverFallback(primaryAlias string, fallback *StepResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.effective[primaryAlias] = fallback
}

func (rs *runState) status(stepID string) stepStatus {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.statuses[stepID]
}

func (rs *runState) result(alias string) *StepResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.results[alias]
}

// scope builds the mapping scope visible to a step: effective results plus
// the workflow input and, for batch items, the current item.
func (rs *runState) scope(input, item map[string]any) *mappingScope {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	steps := make(map[string]*StepResult, len(rs.effective))
	for alias, res := range rs.effective {
		steps[alias] = res
	}
	return &mappingScope{steps: steps, input: input, item: item}
}

// evalContext builds the condition-evaluation view: every recorded result,
// including failed and skipped steps, keyed by alias.
func (rs *runState) evalContext(input map[string]any) *EvalContext {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	steps := make(map[string]*StepResult, len(rs.results))
	for alias, res := range rs.results {
		steps[alias] = res
	}
	return &EvalContext{Steps: steps, Input: input}
}

// isComplete reports whether every step reached a terminal state.
func (rs *runState) isComplete() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, status := range rs.statuses {
		switch status {
		case stepPending, stepRunning:
			return false
		}
	}
	return true
}

// snapshot copies the recorded results for the final Result.
func (rs *runState) snapshot() (steps map[string]*StepResult, executed, failed, skipped int) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	steps = make(map[string]*StepResult, len(rs.results))
	for alias, res := range rs.results {
		steps[alias] = res
		switch {
		case res.Skipped:
			skipped++
		case res.Success:
			executed++
		default:
			failed++
		}
	}
	return steps, executed, failed, skipped
}
