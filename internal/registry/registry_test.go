package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadscope-ai/verdict/internal/decisionlog"
	"github.com/leadscope-ai/verdict/internal/schema"
	"github.com/leadscope-ai/verdict/internal/tool"
	"github.com/leadscope-ai/verdict/internal/types"
)

// captureRecorder collects decision records synchronously for assertions.
type captureRecorder struct {
	mu      sync.Mutex
	records []decisionlog.Record
}

func (c *captureRecorder) Append(rec decisionlog.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) all() []decisionlog.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]decisionlog.Record, len(c.records))
	copy(out, c.records)
	return out
}

var leadSchema = schema.NewObjectSchema(map[string]schema.Field{
	"employee_count": schema.NewIntegerField("number of employees"),
}, []string{"employee_count"})

var scoreSchema = schema.NewObjectSchema(map[string]schema.Field{
	"value": schema.NewNumberField("lead score"),
}, []string{"value"})

func scoreDefinition(version string, calls *atomic.Int64) tool.Definition {
	return tool.Definition{
		Name:         "score_lead",
		Version:      version,
		Description:  "Scores a lead from firmographics",
		Kind:         tool.KindStrict,
		InputSchema:  leadSchema,
		OutputSchema: scoreSchema,
		Handler: func(ctx context.Context, input map[string]any) (*tool.Result, error) {
			if calls != nil {
				calls.Add(1)
			}
			count, _ := input["employee_count"].(int)
			return &tool.Result{
				Output:     map[string]any{"value": float64(count) / 10},
				Confidence: 0.9,
			}, nil
		},
	}
}

func failingDefinition(name string, calls *atomic.Int64) tool.Definition {
	return tool.Definition{
		Name:    name,
		Version: "1.0.0",
		Kind:    tool.KindStrict,
		Handler: func(ctx context.Context, input map[string]any) (*tool.Result, error) {
			if calls != nil {
				calls.Add(1)
			}
			return nil, errors.New("upstream unavailable")
		},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))
	require.NoError(t, r.Register(scoreDefinition("1.2.0", nil)))

	latest, err := r.Resolve("score_lead", "")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", latest.Version())

	pinned, err := r.Resolve("score_lead", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pinned.Version())

	_, err = r.Resolve("score_lead", "9.9.9")
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))

	_, err = r.Resolve("missing", "")
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}

func TestRegisterDuplicateVersion(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))

	err := r.Register(scoreDefinition("1.0.0", nil))
	require.Error(t, err)
	assert.Equal(t, types.DUPLICATE_TOOL, types.CodeOf(err))

	// The original registration is untouched.
	_, err = r.Resolve("score_lead", "1.0.0")
	require.NoError(t, err)
}

func TestInvokeHappyPath(t *testing.T) {
	rec := &captureRecorder{}
	r := NewToolRegistry(WithRecorder(rec))
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))

	inv, err := r.Invoke(context.Background(), "score_lead", "", map[string]any{"employee_count": 250})
	require.NoError(t, err)

	assert.NotEmpty(t, inv.DecisionID)
	assert.Equal(t, "score_lead", inv.Tool)
	assert.Equal(t, tool.KindStrict, inv.Kind)
	assert.Equal(t, 25.0, inv.Result.Output["value"])
	assert.InDelta(t, 0.9, inv.Result.Confidence, 1e-9)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, inv.DecisionID, records[0].DecisionID)
	assert.True(t, records[0].Success)
	assert.Equal(t, "score_lead", records[0].ToolName)
	assert.Equal(t, "1.0.0", records[0].RuleVersion)
}

func TestInvokeInvalidInputSkipsHandlerAndBreaker(t *testing.T) {
	var calls atomic.Int64
	rec := &captureRecorder{}
	r := NewToolRegistry(
		WithRecorder(rec),
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}),
	)
	require.NoError(t, r.Register(scoreDefinition("1.0.0", &calls)))

	for i := 0; i < 3; i++ {
		_, err := r.Invoke(context.Background(), "score_lead", "", map[string]any{"employee_count": "many"})
		require.Error(t, err)
		assert.Equal(t, types.INVALID_INPUT, types.CodeOf(err))
	}

	// Validation failures never reach the handler, the breaker, or the log.
	assert.Equal(t, int64(0), calls.Load())
	assert.Empty(t, rec.all())

	_, err := r.Invoke(context.Background(), "score_lead", "", map[string]any{"employee_count": 10})
	require.NoError(t, err)
}

func TestInvokeOpensCircuitAfterThreshold(t *testing.T) {
	var calls atomic.Int64
	rec := &captureRecorder{}
	r := NewToolRegistry(
		WithRecorder(rec),
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: 50 * time.Millisecond}),
	)
	require.NoError(t, r.Register(failingDefinition("flaky", &calls)))

	for i := 0; i < 3; i++ {
		_, err := r.Invoke(context.Background(), "flaky", "", map[string]any{})
		require.Error(t, err)
		assert.Equal(t, types.TOOL_ERROR, types.CodeOf(err))
	}
	assert.Equal(t, int64(3), calls.Load())

	// Fourth call short-circuits: no handler execution, no decision record.
	_, err := r.Invoke(context.Background(), "flaky", "", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, types.CIRCUIT_OPEN, types.CodeOf(err))
	assert.Equal(t, int64(3), calls.Load())
	assert.Len(t, rec.all(), 3)

	stats := r.BreakerStats()
	assert.Equal(t, 1, stats.OpenCount)
}

func TestInvokeCallerCancellationSparesBreaker(t *testing.T) {
	// A caller abandoning the call says nothing about the tool's health:
	// repeated cancellations past the threshold leave the circuit closed.
	r := NewToolRegistry(
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}),
	)
	require.NoError(t, r.Register(tool.Definition{
		Name:    "slow_enrich",
		Version: "1.0.0",
		Kind:    tool.KindStrict,
		Handler: func(ctx context.Context, input map[string]any) (*tool.Result, error) {
			if wait, _ := input["wait"].(bool); wait {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &tool.Result{Output: map[string]any{"ok": true}, Confidence: 0.9}, nil
		},
	}))

	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Invoke(ctx, "slow_enrich", "", map[string]any{"wait": true})
		require.Error(t, err)
	}

	stats := r.BreakerStats()
	circuit := stats.Tools["slow_enrich@1.0.0"]
	assert.Equal(t, StateClosed, circuit.State)
	assert.Zero(t, circuit.Failures)

	inv, err := r.Invoke(context.Background(), "slow_enrich", "", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, inv.Result.Output["ok"])
}

func TestInvokeHalfOpenRecovery(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	r := NewToolRegistry(
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: 20 * time.Millisecond}),
	)
	def := tool.Definition{
		Name:    "recovering",
		Version: "1.0.0",
		Kind:    tool.KindStrict,
		Handler: func(ctx context.Context, input map[string]any) (*tool.Result, error) {
			if failing.Load() {
				return nil, errors.New("down")
			}
			return &tool.Result{Output: map[string]any{}, Confidence: 1}, nil
		},
	}
	require.NoError(t, r.Register(def))

	_, err := r.Invoke(context.Background(), "recovering", "", map[string]any{})
	require.Error(t, err)
	_, err = r.Invoke(context.Background(), "recovering", "", map[string]any{})
	assert.Equal(t, types.CIRCUIT_OPEN, types.CodeOf(err))

	failing.Store(false)
	time.Sleep(30 * time.Millisecond)

	// First call after the timeout is the probe; its success closes the circuit.
	_, err = r.Invoke(context.Background(), "recovering", "", map[string]any{})
	require.NoError(t, err)

	health := r.Health(context.Background(), "recovering")
	assert.Equal(t, types.HealthStateHealthy, health.State)
}

func TestInvokeOutputViolationCountsAsFailure(t *testing.T) {
	r := NewToolRegistry(
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}),
	)
	def := tool.Definition{
		Name:         "misbehaving",
		Version:      "1.0.0",
		Kind:         tool.KindStrict,
		OutputSchema: scoreSchema,
		Handler: func(ctx context.Context, input map[string]any) (*tool.Result, error) {
			return &tool.Result{Output: map[string]any{"wrong_field": true}, Confidence: 1}, nil
		},
	}
	require.NoError(t, r.Register(def))

	_, err := r.Invoke(context.Background(), "misbehaving", "", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, types.TOOL_ERROR, types.CodeOf(err))

	// The handler succeeded but the contract violation still trips the breaker.
	_, err = r.Invoke(context.Background(), "misbehaving", "", map[string]any{})
	assert.Equal(t, types.CIRCUIT_OPEN, types.CodeOf(err))
}

func TestInvokeTimeoutMapsToToolTimeout(t *testing.T) {
	r := NewToolRegistry()
	def := tool.Definition{
		Name:    "slow",
		Version: "1.0.0",
		Kind:    tool.KindStrict,
		SLA:     30 * time.Millisecond,
		Handler: func(ctx context.Context, input map[string]any) (*tool.Result, error) {
			select {
			case <-time.After(500 * time.Millisecond):
				return &tool.Result{Output: map[string]any{}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	require.NoError(t, r.Register(def))

	start := time.Now()
	_, err := r.Invoke(context.Background(), "slow", "", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, types.TOOL_TIMEOUT, types.CodeOf(err))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestInvokeRecordsFailureOutcome(t *testing.T) {
	rec := &captureRecorder{}
	r := NewToolRegistry(WithRecorder(rec))
	require.NoError(t, r.Register(failingDefinition("flaky", nil)))

	_, err := r.Invoke(context.Background(), "flaky", "", map[string]any{},
		WithEntity("lead-42"))
	require.Error(t, err)

	records := rec.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].Error, "upstream unavailable")
	assert.Equal(t, "lead-42", records[0].EntityKey)
}

func TestInvokeExperimentBucketingIsStable(t *testing.T) {
	rec := &captureRecorder{}
	r := NewToolRegistry(WithRecorder(rec))
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))

	for i := 0; i < 5; i++ {
		_, err := r.Invoke(context.Background(), "score_lead", "",
			map[string]any{"employee_count": 10},
			WithEntity("lead-42"),
			WithExperiment("scoring-v2"))
		require.NoError(t, err)
	}

	records := rec.all()
	require.Len(t, records, 5)
	first := records[0].ABVariant
	assert.Contains(t, []string{"control", "treatment"}, first)
	for _, record := range records[1:] {
		assert.Equal(t, first, record.ABVariant)
	}
}

func TestShadowComparisonRecorded(t *testing.T) {
	rec := &captureRecorder{}
	r := NewToolRegistry(WithRecorder(rec))
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))
	require.NoError(t, r.Register(tool.Definition{
		Name:         "score_lead",
		Version:      "2.0.0",
		Kind:         tool.KindStrict,
		InputSchema:  leadSchema,
		OutputSchema: scoreSchema,
		Handler: func(ctx context.Context, input map[string]any) (*tool.Result, error) {
			return &tool.Result{Output: map[string]any{"value": 99.0}, Confidence: 0.7}, nil
		},
	}))
	require.NoError(t, r.SetShadow("score_lead", "2.0.0"))

	inv, err := r.Invoke(context.Background(), "score_lead", "1.0.0", map[string]any{"employee_count": 250})
	require.NoError(t, err)
	assert.Equal(t, 25.0, inv.Result.Output["value"], "caller sees the primary result")

	r.Close()

	records := rec.all()
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Shadow)
	assert.Equal(t, "2.0.0", records[0].Shadow.RuleVersion)
	assert.Equal(t, 99.0, records[0].Shadow.Output["value"])
	assert.InDelta(t, 0.7, records[0].Shadow.Confidence, 1e-9)
}

func TestShadowFailureDoesNotAffectPrimary(t *testing.T) {
	var primaryCalls atomic.Int64
	rec := &captureRecorder{}
	r := NewToolRegistry(
		WithRecorder(rec),
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}),
	)
	require.NoError(t, r.Register(scoreDefinition("1.0.0", &primaryCalls)))
	require.NoError(t, r.Register(tool.Definition{
		Name:         "score_lead",
		Version:      "2.0.0",
		Kind:         tool.KindStrict,
		InputSchema:  leadSchema,
		OutputSchema: scoreSchema,
		Handler: func(ctx context.Context, input map[string]any) (*tool.Result, error) {
			return nil, errors.New("candidate broken")
		},
	}))
	require.NoError(t, r.SetShadow("score_lead", "2.0.0"))

	// The candidate fails on every invocation; the primary keeps working and
	// its breaker never opens.
	for i := 0; i < 3; i++ {
		inv, err := r.Invoke(context.Background(), "score_lead", "1.0.0", map[string]any{"employee_count": 10})
		require.NoError(t, err)
		assert.Equal(t, 1.0, inv.Result.Output["value"])
	}

	r.Close()

	records := rec.all()
	require.Len(t, records, 3)
	for _, record := range records {
		assert.True(t, record.Success)
		require.NotNil(t, record.Shadow)
		assert.Contains(t, record.Shadow.Error, "candidate broken")
	}

	stats := r.BreakerStats()
	assert.Equal(t, 0, stats.OpenCount)
}

func TestClearShadowStopsComparison(t *testing.T) {
	rec := &captureRecorder{}
	r := NewToolRegistry(WithRecorder(rec))
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))
	require.NoError(t, r.Register(scoreDefinition("2.0.0", nil)))
	require.NoError(t, r.SetShadow("score_lead", "2.0.0"))

	r.ClearShadow("score_lead")

	_, err := r.Invoke(context.Background(), "score_lead", "1.0.0", map[string]any{"employee_count": 10})
	require.NoError(t, err)
	r.Close()

	records := rec.all()
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Shadow)
}

func TestSetShadowUnknownVersion(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))

	err := r.SetShadow("score_lead", "9.0.0")
	require.Error(t, err)
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}

func TestListAndDescribe(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))
	require.NoError(t, r.Register(scoreDefinition("1.2.0", nil)))
	require.NoError(t, r.Register(failingDefinition("flaky", nil)))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "flaky", list[0].Name)
	assert.Equal(t, "score_lead", list[1].Name)
	assert.Equal(t, "1.2.0", list[1].Version)

	versions, err := r.Describe("score_lead")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.0.0", versions[0].Version)
	assert.Equal(t, "1.2.0", versions[1].Version)

	_, err = r.Describe("missing")
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}

func TestHealthReflectsBreakerState(t *testing.T) {
	r := NewToolRegistry(
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}),
	)
	require.NoError(t, r.Register(failingDefinition("flaky", nil)))

	health := r.Health(context.Background(), "flaky")
	assert.Equal(t, types.HealthStateHealthy, health.State)

	_, err := r.Invoke(context.Background(), "flaky", "", map[string]any{})
	require.Error(t, err)

	health = r.Health(context.Background(), "flaky")
	assert.Equal(t, types.HealthStateUnhealthy, health.State)

	health = r.Health(context.Background(), "missing")
	assert.Equal(t, types.HealthStateUnhealthy, health.State)
}

func TestMetricsTracksOutcomes(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(scoreDefinition("1.0.0", nil)))
	require.NoError(t, r.Register(failingDefinition("flaky", nil)))

	_, err := r.Invoke(context.Background(), "score_lead", "", map[string]any{"employee_count": 10})
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), "flaky", "", map[string]any{})
	require.Error(t, err)

	m, err := r.Metrics("score_lead", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TotalCalls)
	assert.Equal(t, int64(1), m.SuccessCalls)
	assert.Equal(t, 1.0, m.SuccessRate())

	m, err = r.Metrics("flaky", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.FailedCalls)
	assert.Equal(t, 1.0, m.FailureRate())
}
