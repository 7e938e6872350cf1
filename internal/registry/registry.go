package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadscope-ai/verdict/internal/decisionlog"
	"github.com/leadscope-ai/verdict/internal/schema"
	"github.com/leadscope-ai/verdict/internal/tool"
	"github.com/leadscope-ai/verdict/internal/types"
)

// ToolRegistry manages tool registration, discovery, and execution.
// It owns per-tool circuit breaker state and is the single entry point for
// invoking a decision tool: input validation, breaker gating, SLA-bounded
// execution, output validation, metrics, decision logging, and shadow-mode
// comparison all happen here.
type ToolRegistry interface {
	// Register adds a tool definition. Name+version pairs are append-only;
	// re-registering an existing pair fails with DUPLICATE_TOOL.
	Register(def tool.Definition) error

	// Resolve returns the tool for name, at the given version or the latest
	// registered version when version is empty. Fails with NOT_FOUND.
	Resolve(name, version string) (tool.Tool, error)

	// Invoke runs a tool through the full pipeline and returns its result.
	Invoke(ctx context.Context, name, version string, input map[string]any, opts ...InvokeOption) (*Invocation, error)

	// List returns descriptors for the latest version of every registered tool.
	List() []tool.Descriptor

	// Describe returns descriptors for every registered version of a tool,
	// oldest first. Fails with NOT_FOUND for unknown names.
	Describe(name string) ([]tool.Descriptor, error)

	// Health reports a tool's health, folding in its breaker state: an open
	// circuit is unhealthy, a half-open one degraded.
	Health(ctx context.Context, name string) types.HealthStatus

	// Metrics returns execution metrics for a specific tool version.
	Metrics(name, version string) (tool.Metrics, error)

	// SetShadow configures shadow mode: every invocation of name also runs
	// candidateVersion with the same input for comparison only.
	SetShadow(name, candidateVersion string) error

	// ClearShadow disables shadow mode for the tool.
	ClearShadow(name string)

	// BreakerStats exposes aggregate circuit breaker statistics.
	BreakerStats() CircuitBreakerStats

	// Close drains in-flight shadow executions. The registry is unusable
	// afterwards for shadow comparisons; primary invocations still work.
	Close()
}

// Invocation is the caller-visible outcome of a successful tool invocation.
type Invocation struct {
	DecisionID types.ID      `json:"decision_id"`
	Tool       string        `json:"tool"`
	Version    string        `json:"version"`
	Kind       tool.Kind     `json:"kind"`
	Result     *tool.Result  `json:"result"`
	Latency    time.Duration `json:"latency"`
}

// InvokeOption customizes a single invocation.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	entityKey  string
	experiment string
	variants   []string
}

// WithEntity tags the invocation with the logical entity (lead, account, ...)
// it decides about. The entity key drives stable A/B bucketing.
func WithEntity(key string) InvokeOption {
	return func(o *invokeOptions) { o.entityKey = key }
}

// WithExperiment assigns the decision to an A/B experiment. The variant is
// derived from a stable hash of the entity key, so repeated invocations for
// the same entity land in the same bucket.
func WithExperiment(name string, variants ...string) InvokeOption {
	return func(o *invokeOptions) {
		o.experiment = name
		o.variants = variants
	}
}

// entry is a single registered tool version.
type entry struct {
	tool      tool.Tool
	version   tool.Version
	key       string
	inSchema  *schema.Compiled
	outSchema *schema.Compiled
	metrics   *tool.Metrics
}

// Option is a functional option for configuring DefaultToolRegistry.
type Option func(*DefaultToolRegistry)

// WithLogger configures the registry to use the specified structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *DefaultToolRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer configures the registry to emit OpenTelemetry spans per invocation.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *DefaultToolRegistry) { r.tracer = tracer }
}

// WithRecorder configures the decision log recorder. Without one, decisions
// are not persisted (useful in tests).
func WithRecorder(rec decisionlog.Recorder) Option {
	return func(r *DefaultToolRegistry) { r.recorder = rec }
}

// WithBreakerConfig overrides the default circuit breaker configuration.
func WithBreakerConfig(cfg CircuitBreakerConfig) Option {
	return func(r *DefaultToolRegistry) { r.breaker = NewCircuitBreaker(cfg) }
}

// DefaultToolRegistry implements ToolRegistry with thread-safe operations.
//
// The definitions map is append-only after startup: versions are added, never
// removed, so reads take only the read lock and published entries are
// immutable. The circuit breaker carries the only mutable hot-path state.
type DefaultToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string][]*entry // per name, ascending by semantic version
	shadows map[string]string   // tool name -> candidate version

	breaker  *CircuitBreaker
	recorder decisionlog.Recorder
	logger   *slog.Logger
	tracer   trace.Tracer

	shadowWG sync.WaitGroup
}

// NewToolRegistry creates a new DefaultToolRegistry instance.
func NewToolRegistry(opts ...Option) *DefaultToolRegistry {
	r := &DefaultToolRegistry{
		tools:   make(map[string][]*entry),
		shadows: make(map[string]string),
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool definition to the registry.
// Returns DUPLICATE_TOOL if the name+version pair is already registered.
func (r *DefaultToolRegistry) Register(def tool.Definition) error {
	t, err := tool.New(def)
	if err != nil {
		return types.WrapError(types.INVALID_INPUT, "invalid tool definition", err)
	}

	version, err := tool.ParseVersion(t.Version())
	if err != nil {
		return types.WrapError(types.INVALID_INPUT, "invalid tool version", err)
	}

	inSchema, err := schema.Compile(t.InputSchema())
	if err != nil {
		return types.WrapError(types.INVALID_INPUT,
			fmt.Sprintf("tool %q input schema", t.Name()), err)
	}
	outSchema, err := schema.Compile(t.OutputSchema())
	if err != nil {
		return types.WrapError(types.INVALID_INPUT,
			fmt.Sprintf("tool %q output schema", t.Name()), err)
	}

	e := &entry{
		tool:      t,
		version:   version,
		key:       t.Name() + "@" + t.Version(),
		inSchema:  inSchema,
		outSchema: outSchema,
		metrics:   tool.NewMetrics(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.tools[t.Name()]
	for _, existing := range versions {
		if existing.version.Compare(version) == 0 {
			return types.NewError(types.DUPLICATE_TOOL,
				fmt.Sprintf("tool %q version %s already registered", t.Name(), t.Version()))
		}
	}

	versions = append(versions, e)
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].version.Compare(versions[j].version) < 0
	})
	r.tools[t.Name()] = versions

	r.logger.Info("tool registered",
		"tool", t.Name(),
		"version", t.Version(),
		"kind", t.Kind().String(),
	)
	return nil
}

// Resolve returns the tool for name at the given version, or the latest
// registered version when version is empty.
func (r *DefaultToolRegistry) Resolve(name, version string) (tool.Tool, error) {
	e, err := r.resolveEntry(name, version)
	if err != nil {
		return nil, err
	}
	return e.tool, nil
}

func (r *DefaultToolRegistry) resolveEntry(name, version string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, exists := r.tools[name]
	if !exists || len(versions) == 0 {
		return nil, types.NewError(types.NOT_FOUND, fmt.Sprintf("tool %q not found", name))
	}

	if version == "" {
		return versions[len(versions)-1], nil
	}

	want, err := tool.ParseVersion(version)
	if err != nil {
		return nil, types.WrapError(types.NOT_FOUND,
			fmt.Sprintf("tool %q version %q", name, version), err)
	}
	for _, e := range versions {
		if e.version.Compare(want) == 0 {
			return e, nil
		}
	}
	return nil, types.NewError(types.NOT_FOUND,
		fmt.Sprintf("tool %q version %s not found", name, version))
}

// Invoke runs a tool by name through the full invocation pipeline:
//
//  1. Validate input against the tool's input schema (INVALID_INPUT; the
//     breaker is never touched by validation failures).
//  2. Check the circuit breaker (CIRCUIT_OPEN short-circuits with no handler
//     call, no latency cost, and no decision record).
//  3. Execute the handler with the tool's SLA as deadline. A timeout counts
//     as a failure for breaker purposes (TOOL_TIMEOUT).
//  4. Validate output against the output schema; a violation counts as a
//     breaker failure even though the handler itself succeeded.
//  5. Record the breaker outcome and metrics, queue exactly one decision
//     record, and kick off the shadow comparison when configured.
func (r *DefaultToolRegistry) Invoke(ctx context.Context, name, version string, input map[string]any, opts ...InvokeOption) (*Invocation, error) {
	var options invokeOptions
	for _, opt := range opts {
		opt(&options)
	}

	e, err := r.resolveEntry(name, version)
	if err != nil {
		return nil, err
	}

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "registry.invoke",
			trace.WithAttributes(
				attribute.String("tool.name", e.tool.Name()),
				attribute.String("tool.version", e.tool.Version()),
				attribute.String("tool.kind", e.tool.Kind().String()),
			),
		)
		defer span.End()
	}

	// 1. Input validation - never touches the breaker.
	if err := e.inSchema.Validate(input); err != nil {
		return nil, types.WrapError(types.INVALID_INPUT,
			fmt.Sprintf("tool %q input", e.tool.Name()), err)
	}

	// 2. Breaker gate - an open circuit short-circuits with zero handler cost.
	if err := r.breaker.Allow(e.key); err != nil {
		r.logger.Warn("circuit open, call short-circuited",
			"tool", e.tool.Name(),
			"version", e.tool.Version(),
		)
		return nil, types.WrapError(types.CIRCUIT_OPEN,
			fmt.Sprintf("tool %q unavailable", e.tool.Name()), err)
	}

	// 3-4. SLA-bounded execution plus output validation.
	start := time.Now()
	result, execErr := r.executeWithDeadline(ctx, e, input)
	latency := time.Since(start)

	if execErr == nil {
		if valErr := e.outSchema.Validate(result.Output); valErr != nil {
			execErr = types.WrapError(types.TOOL_ERROR,
				fmt.Sprintf("tool %q output", e.tool.Name()), valErr)
		}
	}

	// 5. Breaker and metrics bookkeeping. A pure caller cancellation says
	// nothing about the tool's health, so it never extends the failure
	// streak; SLA expiry (DeadlineExceeded) still counts.
	callerCancelled := execErr != nil && errors.Is(execErr, context.Canceled)

	r.mu.Lock()
	if execErr != nil {
		e.metrics.RecordFailure(latency)
	} else {
		e.metrics.RecordSuccess(latency)
	}
	r.mu.Unlock()

	switch {
	case execErr == nil:
		r.breaker.RecordSuccess(e.key)
	case callerCancelled:
		r.breaker.RecordCancel(e.key)
	default:
		r.breaker.RecordFailure(e.key)
	}

	inv := &Invocation{
		DecisionID: types.NewID(),
		Tool:       e.tool.Name(),
		Version:    e.tool.Version(),
		Kind:       e.tool.Kind(),
		Result:     result,
		Latency:    latency,
	}

	r.record(ctx, e, inv, input, execErr, options)

	if execErr != nil {
		r.logger.Warn("tool invocation failed",
			"tool", e.tool.Name(),
			"version", e.tool.Version(),
			"latency", latency,
			"error", execErr,
		)
		return nil, execErr
	}

	r.logger.Debug("tool invocation completed",
		"tool", e.tool.Name(),
		"version", e.tool.Version(),
		"latency", latency,
		"confidence", result.Confidence,
	)
	return inv, nil
}

// executeWithDeadline runs the handler under the tool's SLA. The handler runs
// in its own goroutine so a non-cooperative handler cannot hold the caller
// past the deadline; the goroutine's result is discarded once the deadline
// fires.
func (r *DefaultToolRegistry) executeWithDeadline(ctx context.Context, e *entry, input map[string]any) (*tool.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.tool.SLA())
	defer cancel()

	type outcome struct {
		result *tool.Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := e.tool.Execute(execCtx, input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, types.WrapError(types.TOOL_TIMEOUT,
					fmt.Sprintf("tool %q exceeded SLA %s", e.tool.Name(), e.tool.SLA()), out.err)
			}
			return nil, types.WrapError(types.TOOL_ERROR,
				fmt.Sprintf("tool %q execution failed", e.tool.Name()), out.err)
		}
		if out.result == nil {
			return nil, types.NewError(types.TOOL_ERROR,
				fmt.Sprintf("tool %q returned no result", e.tool.Name()))
		}
		return out.result, nil
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, types.WrapError(types.TOOL_TIMEOUT,
				fmt.Sprintf("tool %q exceeded SLA %s", e.tool.Name(), e.tool.SLA()), execCtx.Err())
		}
		return nil, types.WrapError(types.TOOL_ERROR,
			fmt.Sprintf("tool %q cancelled", e.tool.Name()), execCtx.Err())
	}
}

// record builds the decision record for a completed handler attempt and hands
// it to the recorder. When shadow mode is on, the shadow candidate runs off
// the caller's critical path and its outcome is attached before the record is
// queued; the caller never waits for it.
func (r *DefaultToolRegistry) record(ctx context.Context, e *entry, inv *Invocation, input map[string]any, execErr error, options invokeOptions) {
	if r.recorder == nil {
		return
	}

	rec := decisionlog.Record{
		DecisionID:  inv.DecisionID,
		ToolName:    inv.Tool,
		RuleVersion: inv.Version,
		EntityKey:   options.entityKey,
		Input:       input,
		Latency:     inv.Latency,
		CreatedAt:   time.Now().UTC(),
	}
	if execErr != nil {
		rec.Error = execErr.Error()
	} else {
		rec.Success = true
		rec.Output = inv.Result.Output
		rec.Confidence = inv.Result.Confidence
	}
	if options.experiment != "" {
		rec.ABVariant = decisionlog.AssignVariant(options.experiment, options.entityKey, options.variants)
	}

	candidateVersion := r.shadowCandidate(e.tool.Name())
	if candidateVersion == "" || candidateVersion == e.tool.Version() {
		r.recorder.Append(rec)
		return
	}

	// Shadow comparison: same input, candidate version, failures swallowed,
	// primary breaker untouched. Detached from the caller's context so a
	// caller returning early cannot cancel the comparison.
	r.shadowWG.Add(1)
	go func() {
		defer r.shadowWG.Done()
		rec.Shadow = r.runShadow(e.tool.Name(), candidateVersion, input)
		r.recorder.Append(rec)
	}()
}

// runShadow executes the shadow candidate and captures its outcome.
func (r *DefaultToolRegistry) runShadow(name, candidateVersion string, input map[string]any) *decisionlog.ShadowResult {
	shadow := &decisionlog.ShadowResult{RuleVersion: candidateVersion}

	cand, err := r.resolveEntry(name, candidateVersion)
	if err != nil {
		shadow.Error = err.Error()
		return shadow
	}

	start := time.Now()
	result, err := r.executeWithDeadline(context.Background(), cand, input)
	shadow.Latency = time.Since(start)

	if err != nil {
		shadow.Error = err.Error()
		r.logger.Warn("shadow execution failed",
			"tool", name,
			"candidate_version", candidateVersion,
			"error", err,
		)
		return shadow
	}

	shadow.Output = result.Output
	shadow.Confidence = result.Confidence
	return shadow
}

func (r *DefaultToolRegistry) shadowCandidate(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shadows[name]
}

// SetShadow enables shadow mode for a tool. The candidate version must be
// registered.
func (r *DefaultToolRegistry) SetShadow(name, candidateVersion string) error {
	if _, err := r.resolveEntry(name, candidateVersion); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shadows[name] = candidateVersion
	return nil
}

// ClearShadow disables shadow mode for the tool.
func (r *DefaultToolRegistry) ClearShadow(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shadows, name)
}

// List returns descriptors for the latest version of every registered tool.
func (r *DefaultToolRegistry) List() []tool.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]tool.Descriptor, 0, len(r.tools))
	for _, versions := range r.tools {
		latest := versions[len(versions)-1]
		descriptors = append(descriptors, tool.NewDescriptor(latest.tool))
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// Describe returns descriptors for every registered version of a tool,
// oldest first.
func (r *DefaultToolRegistry) Describe(name string) ([]tool.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, exists := r.tools[name]
	if !exists || len(versions) == 0 {
		return nil, types.NewError(types.NOT_FOUND, fmt.Sprintf("tool %q not found", name))
	}

	descriptors := make([]tool.Descriptor, 0, len(versions))
	for _, e := range versions {
		descriptors = append(descriptors, tool.NewDescriptor(e.tool))
	}
	return descriptors, nil
}

// Health reports a tool's health, folding in its circuit breaker state.
// An open breaker makes the tool unhealthy regardless of its own probe;
// a half-open breaker degrades it.
func (r *DefaultToolRegistry) Health(ctx context.Context, name string) types.HealthStatus {
	e, err := r.resolveEntry(name, "")
	if err != nil {
		return types.Unhealthy(fmt.Sprintf("tool %q not found", name))
	}

	switch r.breaker.GetState(e.key) {
	case StateOpen:
		return types.Unhealthy(fmt.Sprintf("circuit open for tool %s", e.key))
	case StateHalfOpen:
		return types.Degraded(fmt.Sprintf("circuit half-open for tool %s", e.key))
	}

	return e.tool.Health(ctx)
}

// Metrics returns execution metrics for a specific tool version. An empty
// version selects the latest.
func (r *DefaultToolRegistry) Metrics(name, version string) (tool.Metrics, error) {
	e, err := r.resolveEntry(name, version)
	if err != nil {
		return tool.Metrics{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	// Copy so the caller cannot mutate live statistics.
	return *e.metrics, nil
}

// BreakerStats exposes aggregate circuit breaker statistics.
func (r *DefaultToolRegistry) BreakerStats() CircuitBreakerStats {
	return r.breaker.Stats()
}

// ResetBreaker manually closes the breaker for a tool version key.
func (r *DefaultToolRegistry) ResetBreaker(name, version string) error {
	e, err := r.resolveEntry(name, version)
	if err != nil {
		return err
	}
	r.breaker.Reset(e.key)
	return nil
}

// Close drains in-flight shadow executions so queued decision records are
// complete before the recorder itself is closed.
func (r *DefaultToolRegistry) Close() {
	r.shadowWG.Wait()
}

// Ensure DefaultToolRegistry implements ToolRegistry at compile time.
var _ ToolRegistry = (*DefaultToolRegistry)(nil)
