package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/leadscope-ai/verdict/internal/registry"
	"github.com/leadscope-ai/verdict/internal/types"
)

// DefaultPoolSize is the default process-wide concurrent step limit.
const DefaultPoolSize = 10

// Engine resolves workflow definitions into execution plans against the
// tool registry and runs them. Concurrent steps across all in-flight
// workflows share one bounded worker pool; the engine never spawns an
// unbounded goroutine per step.
type Engine struct {
	registry  registry.ToolRegistry
	evaluator *ConditionEvaluator
	validator *Validator
	pool      *semaphore.Weighted
	logger    *slog.Logger
	tracer    trace.Tracer
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithLogger configures the engine's structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer configures the engine to emit a span per workflow run.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

// WithPoolSize sets the shared worker pool size.
func WithPoolSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pool = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewEngine creates an Engine executing against the given registry.
func NewEngine(reg registry.ToolRegistry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:  reg,
		evaluator: NewConditionEvaluator(),
		validator: NewValidator(),
		pool:      semaphore.NewWeighted(DefaultPoolSize),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a workflow definition against the registry and returns the
// composed result. On a required-step failure the run aborts with
// WORKFLOW_ABORTED; the returned Result still carries every step outcome
// recorded before the abort. A workflow-level timeout cancels pending steps;
// completed results and breaker updates stand.
func (e *Engine) Execute(ctx context.Context, def *Definition, input map[string]any, opts ...registry.InvokeOption) (*Result, error) {
	if err := e.validator.Validate(def); err != nil {
		return nil, err
	}

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "workflow.execute",
			trace.WithAttributes(
				attribute.String("workflow.id", def.ID),
				attribute.String("workflow.mode", string(def.Mode)),
				attribute.Int("workflow.step_count", len(def.Steps)),
			),
		)
		defer span.End()
	}

	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	state := newRunState(def)
	e.logger.Info("workflow started",
		"workflow", def.ID,
		"run_id", state.runID,
		"mode", def.Mode,
		"steps", len(def.Steps),
	)

	var runErr error
	switch def.Mode {
	case ModeSequential, ModeConditional, ModeFallback:
		runErr = e.runSequential(ctx, state, input, opts)
	case ModeParallel:
		runErr = e.runParallel(ctx, state, input, opts)
	case ModeBatchParallel:
		runErr = e.runBatch(ctx, state, input, opts)
	}

	return e.buildResult(ctx, state, input, runErr)
}

// runSequential drives the sequential, conditional, and fallback modes:
// steps run strictly in declaration order, and step N+1 never starts before
// step N's outcome is recorded.
func (e *Engine) runSequential(ctx context.Context, state *runState, input map[string]any, opts []registry.InvokeOption) error {
	for i := range state.def.Steps {
		step := &state.def.Steps[i]

		if err := ctx.Err(); err != nil {
			return types.WrapError(types.WORKFLOW_ABORTED,
				fmt.Sprintf("workflow %q cancelled before step %q", state.def.ID, step.ID), err)
		}

		// Fallback steps run only when their primary failed.
		if step.FallbackFor != "" {
			primary := state.def.StepByID(step.FallbackFor)
			if state.status(primary.ID) != stepFailed {
				state.markSkipped(step, step.EffectiveAlias(), -1,
					fmt.Sprintf("primary step %q succeeded", step.FallbackFor))
				continue
			}
		}

		if err := e.acquireSlot(ctx, state.def.ID); err != nil {
			return err
		}
		abort := e.runStep(ctx, state, step, input, nil, -1, opts)
		e.pool.Release(1)

		if abort != nil {
			return abort
		}
	}
	return nil
}

// runParallel launches every step whose dependencies are satisfied, bounded
// by the shared pool. The earliest required failure cancels the remaining
// steps; non-required failures do not abort.
func (e *Engine) runParallel(ctx context.Context, state *runState, input map[string]any, opts []registry.InvokeOption) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		mu       sync.Mutex
		abortErr error
	)
	recordAbort := func(err error) {
		mu.Lock()
		if abortErr == nil {
			abortErr = err
			cancelRun()
		}
		mu.Unlock()
	}

	for {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			defer mu.Unlock()
			if abortErr != nil {
				return abortErr
			}
			return types.WrapError(types.WORKFLOW_ABORTED,
				fmt.Sprintf("workflow %q cancelled", state.def.ID), err)
		}

		mu.Lock()
		if abortErr != nil {
			mu.Unlock()
			return abortErr
		}
		mu.Unlock()

		ready := state.readySteps()
		if len(ready) == 0 {
			if state.isComplete() {
				return nil
			}
			// Remaining pending steps are blocked on failed or skipped
			// dependencies and can never run.
			if e.skipBlockedSteps(state) {
				continue
			}
			return nil
		}

		var wg sync.WaitGroup
		for _, step := range ready {
			if err := e.acquireSlot(runCtx, state.def.ID); err != nil {
				// Pool acquisition fails only when the run is cancelled.
				break
			}
			wg.Add(1)
			go func(s *Step) {
				defer wg.Done()
				defer e.pool.Release(1)
				if abort := e.runStep(runCtx, state, s, input, nil, -1, opts); abort != nil {
					recordAbort(abort)
				}
			}(step)
		}
		wg.Wait()
	}
}

// skipBlockedSteps marks pending steps whose dependencies terminally failed
// or were skipped. Returns true if any step was marked.
func (e *Engine) skipBlockedSteps(state *runState) bool {
	marked := false
	for i := range state.def.Steps {
		step := &state.def.Steps[i]
		if state.status(step.ID) != stepPending {
			continue
		}
		if state.dependenciesResolved(step) {
			state.markSkipped(step, step.EffectiveAlias(), -1, "dependency did not complete")
			marked = true
		}
	}
	return marked
}

// runBatch applies the single step template to input["items"], capped at
// MaxConcurrency in-flight items. Results aggregate as an ordered array
// keyed by input index, independent of completion order.
func (e *Engine) runBatch(ctx context.Context, state *runState, input map[string]any, opts []registry.InvokeOption) error {
	template := &state.def.Steps[0]

	rawItems, ok := input["items"]
	if !ok {
		return types.NewError(types.INVALID_INPUT,
			fmt.Sprintf("workflow %q: batch_parallel input requires an %q array", state.def.ID, "items"))
	}
	items, ok := rawItems.([]any)
	if !ok {
		return types.NewError(types.INVALID_INPUT,
			fmt.Sprintf("workflow %q: %q must be an array, got %T", state.def.ID, "items", rawItems))
	}
	batch := make([]map[string]any, len(items))
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			return types.NewError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: batch item %d must be an object, got %T", state.def.ID, i, raw))
		}
		batch[i] = item
	}

	limit := state.def.MaxConcurrency
	if limit <= 0 {
		limit = DefaultPoolSize
	}
	batchSem := semaphore.NewWeighted(int64(limit))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		mu       sync.Mutex
		abortErr error
		wg       sync.WaitGroup
	)
	recordAbort := func(err error) {
		mu.Lock()
		if abortErr == nil {
			abortErr = err
			cancelRun()
		}
		mu.Unlock()
	}

	for index, item := range batch {
		if err := batchSem.Acquire(runCtx, 1); err != nil {
			break
		}
		if err := e.acquireSlot(runCtx, state.def.ID); err != nil {
			batchSem.Release(1)
			break
		}

		wg.Add(1)
		go func(idx int, itemInput map[string]any) {
			defer wg.Done()
			defer e.pool.Release(1)
			defer batchSem.Release(1)
			if abort := e.runStep(runCtx, state, template, input, itemInput, idx, opts); abort != nil {
				recordAbort(abort)
			}
		}(index, item)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if abortErr != nil {
		return abortErr
	}
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.WORKFLOW_ABORTED,
			fmt.Sprintf("workflow %q cancelled", state.def.ID), err)
	}
	return nil
}

func (e *Engine) acquireSlot(ctx context.Context, workflowID string) error {
	if err := e.pool.Acquire(ctx, 1); err != nil {
		return types.WrapError(types.WORKFLOW_ABORTED,
			fmt.Sprintf("workflow %q cancelled while waiting for a worker", workflowID), err)
	}
	return nil
}

// runStep executes a single step end to end: condition gate, input mapping,
// tool invocation, and failure-policy handling. A skipped step is never
// invoked and produces no decision record. The returned error, when non-nil,
// aborts the workflow.
func (e *Engine) runStep(ctx context.Context, state *runState, step *Step, input, item map[string]any, batchIndex int, opts []registry.InvokeOption) error {
	alias := step.EffectiveAlias()
	if batchIndex >= 0 {
		alias = fmt.Sprintf("%s[%d]", alias, batchIndex)
	}

	// Condition gate: false means the step never runs.
	if step.ConditionExpr != "" {
		pass, err := e.evaluator.Evaluate(step.ConditionExpr, state.evalContext(input))
		if err != nil {
			return e.recordFailure(state, step, alias, batchIndex, 0, err)
		}
		if !pass {
			state.markSkipped(step, alias, batchIndex, "condition evaluated false")
			e.logger.Debug("step skipped",
				"workflow", state.def.ID,
				"step", step.ID,
				"condition", step.ConditionExpr,
			)
			return nil
		}
	}

	// Input mapping resolves before the tool is attempted, so an unresolvable
	// reference costs neither a handler call nor a breaker update.
	stepInput, err := resolveInputMapping(step.InputMapping, state.scope(input, item))
	if err != nil {
		return e.recordFailure(state, step, alias, batchIndex, 0, err)
	}

	state.markRunning(step.ID)
	start := time.Now()
	inv, err := e.registry.Invoke(ctx, step.ToolName(), step.ToolVersion(), stepInput, opts...)
	latency := time.Since(start)

	if err != nil {
		return e.recordFailure(state, step, alias, batchIndex, latency, err)
	}

	result := &StepResult{
		StepID:     step.ID,
		Alias:      alias,
		Tool:       inv.Tool,
		Kind:       inv.Kind,
		Output:     inv.Result.Output,
		Confidence: inv.Result.Confidence,
		Evidence:   inv.Result.Evidence,
		Success:    true,
		Latency:    latency,
		BatchIndex: batchIndex,
	}
	state.markCompleted(step, result)

	if step.FallbackFor != "" {
		primary := state.def.StepByID(step.FallbackFor)
		state.coverFallback(primary.EffectiveAlias(), result)
	}

	e.logger.Debug("step completed",
		"workflow", state.def.ID,
		"step", step.ID,
		"tool", inv.Tool,
		"latency", latency,
		"confidence", inv.Result.Confidence,
	)
	return nil
}

// recordFailure applies the step's failure policy. It returns a non-nil
// abort error only when the failure must stop the workflow.
func (e *Engine) recordFailure(state *runState, step *Step, alias string, batchIndex int, latency time.Duration, cause error) error {
	e.logger.Warn("step failed",
		"workflow", state.def.ID,
		"step", step.ID,
		"tool", step.ToolName(),
		"error", cause,
	)

	switch step.ErrorPolicy() {
	case OnErrorFallbackValue:
		// The configured substitute becomes the step's result.
		state.markCompleted(step, &StepResult{
			StepID:     step.ID,
			Alias:      alias,
			Tool:       step.ToolName(),
			Output:     step.FallbackValue,
			Success:    true,
			Latency:    latency,
			Error:      cause.Error(),
			BatchIndex: batchIndex,
		})
		return nil

	case OnErrorSkip:
		state.markFailed(step, &StepResult{
			StepID:     step.ID,
			Alias:      alias,
			Tool:       step.ToolName(),
			Latency:    latency,
			Error:      cause.Error(),
			BatchIndex: batchIndex,
		})
		return nil

	default: // OnErrorFail
		state.markFailed(step, &StepResult{
			StepID:     step.ID,
			Alias:      alias,
			Tool:       step.ToolName(),
			Latency:    latency,
			Error:      cause.Error(),
			BatchIndex: batchIndex,
		})

		// A failed fallback leaves a required primary with nothing to cover it.
		if step.FallbackFor != "" {
			if primary := state.def.StepByID(step.FallbackFor); primary != nil && primary.Required {
				return types.WrapError(types.WORKFLOW_ABORTED,
					fmt.Sprintf("required step %q failed and its fallback %q failed", primary.ID, step.ID), cause)
			}
		}
		if !step.Required {
			return nil
		}
		// A required primary with a designated fallback does not abort here;
		// the fallback runs next and either covers the failure or aborts above.
		if state.def.FallbackStepFor(step.ID) != nil {
			return nil
		}
		return types.WrapError(types.WORKFLOW_ABORTED,
			fmt.Sprintf("required step %q failed", step.ID), cause)
	}
}

// buildResult assembles the final Result from the run state. Output
// composition is keyed by alias, so it is deterministic regardless of the
// order steps physically finished in.
func (e *Engine) buildResult(ctx context.Context, state *runState, input map[string]any, runErr error) (*Result, error) {
	steps, executed, failed, skipped := state.snapshot()

	res := &Result{
		WorkflowID:    state.def.ID,
		RunID:         state.runID,
		Steps:         steps,
		StepsExecuted: executed,
		StepsFailed:   failed,
		StepsSkipped:  skipped,
		Duration:      time.Since(state.startedAt),
	}

	switch {
	case runErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Status = StatusCancelled
	case runErr != nil:
		res.Status = StatusAborted
	default:
		res.Status = StatusCompleted
	}

	if runErr != nil {
		var engineErr *types.EngineError
		if !errors.As(runErr, &engineErr) {
			engineErr = types.WrapError(types.WORKFLOW_ABORTED,
				fmt.Sprintf("workflow %q failed", state.def.ID), runErr)
		}
		res.Err = engineErr

		e.logger.Warn("workflow aborted",
			"workflow", state.def.ID,
			"run_id", state.runID,
			"status", res.Status,
			"executed", executed,
			"failed", failed,
			"error", engineErr,
		)
		return res, engineErr
	}

	output, err := e.assembleOutput(state, input)
	if err != nil {
		res.Status = StatusAborted
		var engineErr *types.EngineError
		if !errors.As(err, &engineErr) {
			engineErr = types.WrapError(types.INPUT_MAPPING_ERROR, "output mapping", err)
		}
		res.Err = engineErr
		return res, engineErr
	}
	res.Output = output

	e.logger.Info("workflow completed",
		"workflow", state.def.ID,
		"run_id", state.runID,
		"executed", executed,
		"failed", failed,
		"skipped", skipped,
		"duration", res.Duration,
	)
	return res, nil
}

func (e *Engine) assembleOutput(state *runState, input map[string]any) (map[string]any, error) {
	if state.def.Mode == ModeBatchParallel {
		return e.assembleBatchOutput(state), nil
	}

	if len(state.def.OutputMapping) > 0 {
		return resolveOutputMapping(state.def.OutputMapping, state.scope(input, nil))
	}

	// Without an explicit mapping, expose each effective alias's raw output.
	state.mu.RLock()
	defer state.mu.RUnlock()
	out := make(map[string]any, len(state.effective))
	for alias, res := range state.effective {
		out[alias] = res.Output
	}
	return out, nil
}

// assembleBatchOutput aggregates batch items as an ordered array tagged by
// input index under the template's alias.
func (e *Engine) assembleBatchOutput(state *runState) map[string]any {
	template := &state.def.Steps[0]
	alias := template.EffectiveAlias()

	state.mu.RLock()
	defer state.mu.RUnlock()

	maxIndex := -1
	byIndex := make(map[int]*StepResult, len(state.results))
	for _, res := range state.results {
		if res.BatchIndex < 0 {
			continue
		}
		byIndex[res.BatchIndex] = res
		if res.BatchIndex > maxIndex {
			maxIndex = res.BatchIndex
		}
	}

	items := make([]any, 0, maxIndex+1)
	for i := 0; i <= maxIndex; i++ {
		res, ok := byIndex[i]
		if !ok {
			continue
		}
		entry := map[string]any{
			"index":   res.BatchIndex,
			"success": res.Success,
		}
		if res.Skipped {
			entry["skipped"] = true
		}
		if res.Output != nil {
			entry["output"] = res.Output
		}
		if res.Error != "" {
			entry["error"] = res.Error
		}
		items = append(items, entry)
	}
	return map[string]any{alias: items}
}
