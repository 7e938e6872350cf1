package workflow

import (
	"fmt"
	"strings"

	"github.com/leadscope-ai/verdict/internal/types"
)

// Validator performs structural validation of workflow definitions before
// execution. It is stateless.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs all structural checks and returns the first problem found:
// missing fields, duplicate IDs or aliases, unknown dependencies, dependency
// cycles, and mode-specific constraints.
func (v *Validator) Validate(def *Definition) error {
	if def == nil {
		return types.NewError(types.INVALID_INPUT, "workflow definition cannot be nil")
	}
	if def.ID == "" {
		return types.NewError(types.INVALID_INPUT, "workflow id is required")
	}
	if !def.Mode.IsValid() {
		return types.NewError(types.INVALID_INPUT,
			fmt.Sprintf("workflow %q: unknown execution mode %q", def.ID, def.Mode))
	}
	if len(def.Steps) == 0 {
		return types.NewError(types.INVALID_INPUT,
			fmt.Sprintf("workflow %q must contain at least one step", def.ID))
	}

	if err := v.validateSteps(def); err != nil {
		return err
	}
	if err := v.validateDependencies(def); err != nil {
		return err
	}
	if cycle := v.detectCycle(def); len(cycle) > 0 {
		return types.NewError(types.INVALID_INPUT,
			fmt.Sprintf("workflow %q: dependency cycle: %s", def.ID, strings.Join(cycle, " -> ")))
	}
	return v.validateMode(def)
}

func (v *Validator) validateSteps(def *Definition) error {
	ids := make(map[string]bool, len(def.Steps))
	aliases := make(map[string]bool, len(def.Steps))

	for i := range def.Steps {
		step := &def.Steps[i]
		if step.ID == "" {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: step %d has no id", def.ID, i))
		}
		if step.ToolRef == "" || step.ToolName() == "" {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: step %q has no tool_ref", def.ID, step.ID))
		}
		if ids[step.ID] {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: duplicate step id %q", def.ID, step.ID))
		}
		ids[step.ID] = true

		alias := step.EffectiveAlias()
		if aliases[alias] {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: duplicate step alias %q", def.ID, alias))
		}
		aliases[alias] = true

		if !step.OnError.IsValid() {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: step %q: unknown on_error policy %q", def.ID, step.ID, step.OnError))
		}
		if step.OnError == OnErrorFallbackValue && step.FallbackValue == nil {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: step %q uses on_error fallback_value without a fallback_value", def.ID, step.ID))
		}
	}
	return nil
}

func (v *Validator) validateDependencies(def *Definition) error {
	for i := range def.Steps {
		step := &def.Steps[i]
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return types.NewError(types.INVALID_INPUT,
					fmt.Sprintf("workflow %q: step %q depends on itself", def.ID, step.ID))
			}
			if def.StepByID(dep) == nil {
				return types.NewError(types.INVALID_INPUT,
					fmt.Sprintf("workflow %q: step %q depends on unknown step %q", def.ID, step.ID, dep))
			}
		}
		if step.FallbackFor != "" && def.StepByID(step.FallbackFor) == nil {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: step %q is fallback for unknown step %q", def.ID, step.ID, step.FallbackFor))
		}
	}
	return nil
}

// detectCycle runs DFS with color marking over the dependency graph.
// Colors: 0 unvisited, 1 in-progress, 2 done. Returns the cycle path if one
// exists, otherwise nil.
func (v *Validator) detectCycle(def *Definition) []string {
	adj := make(map[string][]string, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		for _, dep := range step.DependsOn {
			adj[dep] = append(adj[dep], step.ID)
		}
	}

	color := make(map[string]int, len(def.Steps))
	parent := make(map[string]string, len(def.Steps))

	var dfs func(id string) []string
	dfs = func(id string) []string {
		color[id] = 1
		for _, next := range adj[id] {
			switch color[next] {
			case 0:
				parent[next] = id
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			case 1:
				// Back edge: reconstruct the cycle path.
				cycle := []string{next}
				for current := id; current != next; current = parent[current] {
					cycle = append([]string{current}, cycle...)
				}
				return append([]string{next}, cycle...)
			}
		}
		color[id] = 2
		return nil
	}

	for i := range def.Steps {
		if color[def.Steps[i].ID] == 0 {
			if cycle := dfs(def.Steps[i].ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (v *Validator) validateMode(def *Definition) error {
	switch def.Mode {
	case ModeBatchParallel:
		if len(def.Steps) != 1 {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: batch_parallel requires exactly one step template, got %d", def.ID, len(def.Steps)))
		}
		if def.MaxConcurrency < 0 {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: max_concurrency cannot be negative", def.ID))
		}

	case ModeFallback:
		hasFallback := false
		for i := range def.Steps {
			if def.Steps[i].FallbackFor != "" {
				hasFallback = true
				break
			}
		}
		if !hasFallback {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: fallback mode requires at least one step with fallback_for", def.ID))
		}

	case ModeConditional:
		// Conditions are optional per step; an unconditional step always runs.
	}
	return nil
}
