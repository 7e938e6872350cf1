package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSequentialDef() *Definition {
	return &Definition{
		ID:   "lead-pipeline",
		Mode: ModeSequential,
		Steps: []Step{
			{ID: "enrich", ToolRef: "company-enrich"},
			{ID: "score", ToolRef: "lead-score", DependsOn: []string{"enrich"}},
		},
	}
}

func TestValidatorAcceptsValidDefinition(t *testing.T) {
	require.NoError(t, NewValidator().Validate(validSequentialDef()))
}

func TestValidatorRejections(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
	}{
		{"nil definition", nil},
		{"missing id", &Definition{Mode: ModeSequential, Steps: []Step{{ID: "a", ToolRef: "t"}}}},
		{"unknown mode", &Definition{ID: "w", Mode: "round_robin", Steps: []Step{{ID: "a", ToolRef: "t"}}}},
		{"no steps", &Definition{ID: "w", Mode: ModeSequential}},
		{"step without id", &Definition{ID: "w", Mode: ModeSequential, Steps: []Step{{ToolRef: "t"}}}},
		{"step without tool_ref", &Definition{ID: "w", Mode: ModeSequential, Steps: []Step{{ID: "a"}}}},
		{"duplicate step ids", &Definition{ID: "w", Mode: ModeSequential, Steps: []Step{
			{ID: "a", ToolRef: "t"}, {ID: "a", ToolRef: "t"},
		}}},
		{"duplicate aliases", &Definition{ID: "w", Mode: ModeSequential, Steps: []Step{
			{ID: "a", ToolRef: "t", Alias: "x"}, {ID: "b", ToolRef: "t", Alias: "x"},
		}}},
		{"unknown dependency", &Definition{ID: "w", Mode: ModeSequential, Steps: []Step{
			{ID: "a", ToolRef: "t", DependsOn: []string{"ghost"}},
		}}},
		{"self dependency", &Definition{ID: "w", Mode: ModeSequential, Steps: []Step{
			{ID: "a", ToolRef: "t", DependsOn: []string{"a"}},
		}}},
		{"unknown on_error", &Definition{ID: "w", Mode: ModeSequential, Steps: []Step{
			{ID: "a", ToolRef: "t", OnError: "retry"},
		}}},
		{"fallback_value policy without value", &Definition{ID: "w", Mode: ModeSequential, Steps: []Step{
			{ID: "a", ToolRef: "t", OnError: OnErrorFallbackValue},
		}}},
		{"fallback_for unknown step", &Definition{ID: "w", Mode: ModeFallback, Steps: []Step{
			{ID: "a", ToolRef: "t"}, {ID: "b", ToolRef: "t", FallbackFor: "ghost"},
		}}},
		{"fallback mode without fallback step", &Definition{ID: "w", Mode: ModeFallback, Steps: []Step{
			{ID: "a", ToolRef: "t"}, {ID: "b", ToolRef: "t"},
		}}},
		{"batch with multiple steps", &Definition{ID: "w", Mode: ModeBatchParallel, Steps: []Step{
			{ID: "a", ToolRef: "t"}, {ID: "b", ToolRef: "t"},
		}}},
		{"negative max_concurrency", &Definition{ID: "w", Mode: ModeBatchParallel, MaxConcurrency: -1, Steps: []Step{
			{ID: "a", ToolRef: "t"},
		}}},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, v.Validate(tt.def))
		})
	}
}

func TestValidatorDetectsCycle(t *testing.T) {
	def := &Definition{
		ID:   "cyclic",
		Mode: ModeParallel,
		Steps: []Step{
			{ID: "a", ToolRef: "t", DependsOn: []string{"c"}},
			{ID: "b", ToolRef: "t", DependsOn: []string{"a"}},
			{ID: "c", ToolRef: "t", DependsOn: []string{"b"}},
		},
	}
	err := NewValidator().Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidatorAcceptsDiamond(t *testing.T) {
	def := &Definition{
		ID:   "diamond",
		Mode: ModeParallel,
		Steps: []Step{
			{ID: "root", ToolRef: "t"},
			{ID: "left", ToolRef: "t", DependsOn: []string{"root"}},
			{ID: "right", ToolRef: "t", DependsOn: []string{"root"}},
			{ID: "join", ToolRef: "t", DependsOn: []string{"left", "right"}},
		},
	}
	require.NoError(t, NewValidator().Validate(def))
}
