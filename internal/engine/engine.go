// Package engine wires the verdict components into one explicitly
// constructed unit: tool registry, workflow engine, decision log, and trust
// gate. Nothing here is ambient process state; tests instantiate isolated
// engines per case.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/leadscope-ai/verdict/internal/config"
	"github.com/leadscope-ai/verdict/internal/decisionlog"
	"github.com/leadscope-ai/verdict/internal/registry"
	"github.com/leadscope-ai/verdict/internal/tool"
	"github.com/leadscope-ai/verdict/internal/trust"
	"github.com/leadscope-ai/verdict/internal/types"
	"github.com/leadscope-ai/verdict/internal/util"
	"github.com/leadscope-ai/verdict/internal/workflow"
)

// Decision is a single tool invocation plus its trust label.
type Decision struct {
	Invocation *registry.Invocation `json:"invocation"`
	Trust      trust.Label          `json:"trust"`
}

// WorkflowDecision is a workflow run plus the trust label for its composed
// result.
type WorkflowDecision struct {
	Result *workflow.Result `json:"result"`
	Trust  trust.Label      `json:"trust"`
}

// Engine is the orchestration facade. Construct with New, register tools
// and workflows, then invoke; Close drains in-flight shadow executions and
// flushes the decision log.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *registry.DefaultToolRegistry
	workflows *workflow.Engine
	gate      *trust.Gate
	writer    *decisionlog.Writer
	sink      decisionlog.Sink

	mu   sync.RWMutex
	defs map[string]*workflow.Definition
}

// New builds an Engine from configuration: decision-log sink and writer,
// registry with breaker settings, workflow engine sharing one worker pool,
// and the trust gate.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging)

	sink, err := newSink(cfg.DecisionLog)
	if err != nil {
		return nil, err
	}
	writer := decisionlog.NewWriter(sink,
		decisionlog.WithBufferSize(cfg.DecisionLog.BufferSize),
		decisionlog.WithRetry(cfg.DecisionLog.MaxRetries, cfg.DecisionLog.RetryBackoff),
		decisionlog.WithWriterLogger(logger),
	)

	reg := registry.NewToolRegistry(
		registry.WithLogger(logger),
		registry.WithRecorder(writer),
		registry.WithBreakerConfig(registry.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
		}),
	)

	gate, err := trust.NewGate(trust.Thresholds{
		AutoExecute:         cfg.Trust.AutoExecute,
		ShowWithOverride:    cfg.Trust.ShowWithOverride,
		RequireConfirmation: cfg.Trust.RequireConfirmation,
	})
	if err != nil {
		writer.Close()
		return nil, err
	}

	engineOpts := []workflow.EngineOption{
		workflow.WithLogger(logger),
		workflow.WithPoolSize(cfg.Engine.PoolSize),
	}
	if cfg.Tracing.Enabled {
		engineOpts = append(engineOpts, workflow.WithTracer(otel.Tracer("verdict/workflow")))
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		workflows: workflow.NewEngine(reg, engineOpts...),
		gate:      gate,
		writer:    writer,
		sink:      sink,
		defs:      make(map[string]*workflow.Definition),
	}

	if cfg.Workflows.Dir != "" {
		if err := e.LoadWorkflows(cfg.Workflows.Dir); err != nil {
			writer.Close()
			return nil, err
		}
	}
	return e, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newSink(cfg config.DecisionLogConfig) (decisionlog.Sink, error) {
	path, err := util.ExpandPath(cfg.Path)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "resolving decision log path", err)
	}
	switch cfg.Sink {
	case "sqlite":
		return decisionlog.NewSQLiteSink(path)
	case "jsonl":
		return decisionlog.NewJSONLSink(path)
	case "memory":
		return decisionlog.NewMemorySink(), nil
	default:
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("unknown decision log sink %q", cfg.Sink))
	}
}

// Registry exposes the underlying tool registry for registration and
// introspection.
func (e *Engine) Registry() *registry.DefaultToolRegistry {
	return e.registry
}

// RegisterTool adds a tool definition to the registry.
func (e *Engine) RegisterTool(def tool.Definition) error {
	return e.registry.Register(def)
}

// InvokeTool runs a single tool through the registry pipeline and labels
// the result.
func (e *Engine) InvokeTool(ctx context.Context, name, version string, input map[string]any, opts ...registry.InvokeOption) (*Decision, error) {
	inv, err := e.registry.Invoke(ctx, name, version, input, opts...)
	if err != nil {
		return nil, err
	}
	return &Decision{
		Invocation: inv,
		Trust:      e.gate.LabelResult(inv.Kind, inv.Result),
	}, nil
}

// AddWorkflow registers a validated workflow definition under its ID.
func (e *Engine) AddWorkflow(def *workflow.Definition) error {
	if err := workflow.NewValidator().Validate(def); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.defs[def.ID]; exists {
		return types.NewError(types.DUPLICATE_TOOL,
			fmt.Sprintf("workflow %q already registered", def.ID))
	}
	e.defs[def.ID] = def
	return nil
}

// LoadWorkflows loads every *.yaml and *.yml definition in dir.
func (e *Engine) LoadWorkflows(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return types.WrapError(types.CONFIG_LOAD_FAILED,
			fmt.Sprintf("reading workflow dir %s", dir), err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := workflow.Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if err := e.AddWorkflow(def); err != nil {
			return err
		}
		e.logger.Info("workflow loaded", "workflow", def.ID, "file", entry.Name())
	}
	return nil
}

// Workflow returns a registered definition by ID.
func (e *Engine) Workflow(id string) (*workflow.Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.defs[id]
	if !ok {
		return nil, types.NewError(types.NOT_FOUND, fmt.Sprintf("workflow %q not found", id))
	}
	return def, nil
}

// Workflows returns the IDs of all registered definitions, sorted.
func (e *Engine) Workflows() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.defs))
	for id := range e.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunWorkflow executes a registered workflow by ID and labels the composed
// result.
func (e *Engine) RunWorkflow(ctx context.Context, id string, input map[string]any, opts ...registry.InvokeOption) (*WorkflowDecision, error) {
	def, err := e.Workflow(id)
	if err != nil {
		return nil, err
	}
	return e.RunWorkflowDefinition(ctx, def, input, opts...)
}

// RunWorkflowDefinition executes an ad-hoc definition without registering it.
func (e *Engine) RunWorkflowDefinition(ctx context.Context, def *workflow.Definition, input map[string]any, opts ...registry.InvokeOption) (*WorkflowDecision, error) {
	res, err := e.workflows.Execute(ctx, def, input, opts...)
	if err != nil {
		return nil, err
	}
	return &WorkflowDecision{
		Result: res,
		Trust:  e.labelWorkflow(res),
	}, nil
}

// labelWorkflow derives one trust label for a composed workflow result:
// the weakest invoked step bounds the whole run. Confidence is the minimum
// across executed steps, and the run counts as DELEGATED if any invoked
// tool version was DELEGATED, so generated content in any step keeps the
// workflow from auto-executing. The kind comes from the step result itself,
// recorded at invocation time, so a later STRICT release of the same tool
// cannot relabel a run that executed the DELEGATED version.
func (e *Engine) labelWorkflow(res *workflow.Result) trust.Label {
	kind := tool.KindStrict
	confidence := 1.0
	executed := false

	aliases := make([]string, 0, len(res.Steps))
	for alias := range res.Steps {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	var evidence []tool.Citation
	for _, alias := range aliases {
		step := res.Steps[alias]
		if step.Skipped || !step.Success {
			continue
		}
		executed = true
		if step.Confidence < confidence {
			confidence = step.Confidence
		}
		if step.Kind == tool.KindDelegated {
			kind = tool.KindDelegated
		}
		evidence = append(evidence, step.Evidence...)
	}

	if !executed {
		confidence = 0
	}
	return e.gate.Label(kind, confidence, evidence)
}

// Health reports a tool's health, folding in its breaker state.
func (e *Engine) Health(ctx context.Context, name string) types.HealthStatus {
	return e.registry.Health(ctx, name)
}

// BreakerStats exposes aggregate circuit breaker statistics.
func (e *Engine) BreakerStats() registry.CircuitBreakerStats {
	return e.registry.BreakerStats()
}

// Tools returns descriptors for the latest version of every registered tool.
func (e *Engine) Tools() []tool.Descriptor {
	return e.registry.List()
}

// Close tears the engine down in dependency order: drain in-flight shadow
// executions first so their records reach the writer, then flush and close
// the decision log.
func (e *Engine) Close() error {
	e.registry.Close()
	return e.writer.Close()
}
