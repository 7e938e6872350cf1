package tool

import (
	"context"
	"time"

	"github.com/leadscope-ai/verdict/internal/schema"
	"github.com/leadscope-ai/verdict/internal/types"
)

// Kind classifies a tool's implementation strategy for trust purposes.
type Kind string

const (
	// KindStrict marks a deterministic, side-effect-free rule tool.
	KindStrict Kind = "STRICT"

	// KindDelegated marks a tool that calls a generative service.
	KindDelegated Kind = "DELEGATED"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the Kind is one of the defined constants.
func (k Kind) IsValid() bool {
	return k == KindStrict || k == KindDelegated
}

// Citation is a source reference supporting a decision. Citations flow
// unmodified from tool output through the decision record to the trust label.
type Citation struct {
	Source string  `json:"source"`
	Detail string  `json:"detail,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// Result is the outcome of a single tool execution.
type Result struct {
	// Output is the tool's scored output document, matching its output schema.
	Output map[string]any `json:"output"`

	// Confidence is the tool's self-reported certainty in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// Evidence lists source citations supporting the output.
	Evidence []Citation `json:"evidence,omitempty"`

	// Metadata carries optional tool-specific annotations.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HandlerFunc is the execution body of a tool.
type HandlerFunc func(ctx context.Context, input map[string]any) (*Result, error)

// Tool is the uniform invoke contract the registry stores handlers behind.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Version returns the semantic version of this tool.
	Version() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Kind returns the trust classification of this tool.
	Kind() Kind

	// InputSchema returns the JSON Schema the input document must satisfy.
	InputSchema() schema.JSONSchema

	// OutputSchema returns the JSON Schema the output document must satisfy.
	OutputSchema() schema.JSONSchema

	// SLA returns the per-invocation execution deadline.
	SLA() time.Duration

	// Execute runs the tool. Context carries the SLA deadline; implementations
	// must honor cancellation.
	Execute(ctx context.Context, input map[string]any) (*Result, error)

	// Health returns the current health status of this tool.
	Health(ctx context.Context) types.HealthStatus
}
