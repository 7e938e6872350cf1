package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadscope-ai/verdict/internal/types"
)

func validDefinition() Definition {
	return Definition{
		Name:        "score_lead",
		Version:     "1.2.0",
		Description: "Scores a lead",
		Kind:        KindStrict,
		Handler: func(ctx context.Context, input map[string]any) (*Result, error) {
			return &Result{Output: map[string]any{"value": 1.0}, Confidence: 1}, nil
		},
	}
}

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
		want   string
	}{
		{"empty name", func(d *Definition) { d.Name = "  " }, "name cannot be empty"},
		{"bad version", func(d *Definition) { d.Version = "1.2" }, "invalid semver"},
		{"bad kind", func(d *Definition) { d.Kind = "FUZZY" }, "invalid kind"},
		{"nil handler", func(d *Definition) { d.Handler = nil }, "handler cannot be nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(&def)
			err := def.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, validDefinition().Validate())
}

func TestNewAppliesDefaultSLA(t *testing.T) {
	tl, err := New(validDefinition())
	require.NoError(t, err)
	assert.Equal(t, DefaultSLA, tl.SLA())

	def := validDefinition()
	def.SLA = 250 * time.Millisecond
	tl, err = New(def)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, tl.SLA())
}

func TestNewKindSelection(t *testing.T) {
	strict, err := New(validDefinition())
	require.NoError(t, err)
	assert.Equal(t, KindStrict, strict.Kind())

	def := validDefinition()
	def.Kind = KindDelegated
	delegated, err := New(def)
	require.NoError(t, err)
	assert.Equal(t, KindDelegated, delegated.Kind())
}

func TestMustNewPanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		MustNew(Definition{Name: "broken"})
	})
}

func TestHealthDefaultsToHealthy(t *testing.T) {
	tl := MustNew(validDefinition())
	assert.True(t, tl.Health(context.Background()).IsHealthy())

	def := validDefinition()
	def.HealthFunc = func(ctx context.Context) types.HealthStatus {
		return types.Degraded("warming up")
	}
	tl = MustNew(def)
	assert.True(t, tl.Health(context.Background()).IsDegraded())
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 3}, v)
	assert.Equal(t, "1.2.3", v.String())

	for _, bad := range []string{"", "1.2", "1.2.3.4", "1.2.x", "-1.0.0"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestVersionCompare(t *testing.T) {
	v120, _ := ParseVersion("1.2.0")
	v1110, _ := ParseVersion("1.11.0")
	v200, _ := ParseVersion("2.0.0")

	assert.Equal(t, -1, v120.Compare(v1110), "numeric, not lexicographic")
	assert.Equal(t, 1, v200.Compare(v1110))
	assert.Equal(t, 0, v120.Compare(v120))
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("score_lead@1.2.0")
	require.NoError(t, err)
	assert.Equal(t, Ref{Name: "score_lead", Version: "1.2.0"}, ref)
	assert.Equal(t, "score_lead@1.2.0", ref.String())

	ref, err = ParseRef("score_lead")
	require.NoError(t, err)
	assert.Equal(t, Ref{Name: "score_lead"}, ref)
	assert.Equal(t, "score_lead", ref.String())

	for _, bad := range []string{"", "@1.0.0", "score_lead@nope"} {
		_, err := ParseRef(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)
	m.RecordFailure(20 * time.Millisecond)

	assert.Equal(t, int64(3), m.TotalCalls)
	assert.Equal(t, int64(2), m.SuccessCalls)
	assert.Equal(t, int64(1), m.FailedCalls)
	assert.Equal(t, 20*time.Millisecond, m.AvgDuration)
	assert.InDelta(t, 2.0/3.0, m.SuccessRate(), 1e-9)
	assert.NotNil(t, m.LastExecutedAt)

	empty := NewMetrics()
	assert.Equal(t, 0.0, empty.SuccessRate())
	assert.Equal(t, 0.0, empty.FailureRate())
}
