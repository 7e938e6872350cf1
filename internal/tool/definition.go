package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leadscope-ai/verdict/internal/schema"
	"github.com/leadscope-ai/verdict/internal/types"
)

// DefaultSLA bounds handler execution when a definition does not set one.
const DefaultSLA = 5 * time.Second

// Definition declares a tool for registration. The handler is owned
// exclusively by the registry entry once registered.
type Definition struct {
	Name         string
	Version      string
	Description  string
	Kind         Kind
	InputSchema  schema.JSONSchema
	OutputSchema schema.JSONSchema
	SLA          time.Duration
	Handler      HandlerFunc

	// HealthFunc optionally overrides the default always-healthy probe.
	HealthFunc func(ctx context.Context) types.HealthStatus
}

// Validate checks that the definition is well formed.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, err := ParseVersion(d.Version); err != nil {
		return fmt.Errorf("tool %q: %w", d.Name, err)
	}
	if !d.Kind.IsValid() {
		return fmt.Errorf("tool %q: invalid kind %q", d.Name, d.Kind)
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %q: handler cannot be nil", d.Name)
	}
	return nil
}

// New builds a Tool from a definition. The returned implementation is
// kind-specific; both satisfy the same contract and differ only in the
// classification the trust gate reads.
func New(d Definition) (Tool, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.SLA <= 0 {
		d.SLA = DefaultSLA
	}
	base := baseTool{def: d}
	switch d.Kind {
	case KindStrict:
		return &strictTool{base}, nil
	case KindDelegated:
		return &delegatedTool{base}, nil
	default:
		return nil, fmt.Errorf("tool %q: invalid kind %q", d.Name, d.Kind)
	}
}

// MustNew builds a Tool from a definition and panics on an invalid one.
// For use in static registration tables.
func MustNew(d Definition) Tool {
	t, err := New(d)
	if err != nil {
		panic(err)
	}
	return t
}

type baseTool struct {
	def Definition
}

func (t *baseTool) Name() string                    { return t.def.Name }
func (t *baseTool) Version() string                 { return t.def.Version }
func (t *baseTool) Description() string             { return t.def.Description }
func (t *baseTool) InputSchema() schema.JSONSchema  { return t.def.InputSchema }
func (t *baseTool) OutputSchema() schema.JSONSchema { return t.def.OutputSchema }
func (t *baseTool) SLA() time.Duration              { return t.def.SLA }

func (t *baseTool) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	return t.def.Handler(ctx, input)
}

func (t *baseTool) Health(ctx context.Context) types.HealthStatus {
	if t.def.HealthFunc != nil {
		return t.def.HealthFunc(ctx)
	}
	return types.Healthy(fmt.Sprintf("tool %s ready", t.def.Name))
}

type strictTool struct{ baseTool }

func (t *strictTool) Kind() Kind { return KindStrict }

type delegatedTool struct{ baseTool }

func (t *delegatedTool) Kind() Kind { return KindDelegated }

// Ref identifies a tool by name plus optional version, as referenced from
// workflow steps ("score-lead@1.2.0" or just "score-lead").
type Ref struct {
	Name    string
	Version string
}

// ParseRef splits a "name@version" reference. The version part is optional;
// when absent the registry resolves the latest version.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("tool reference cannot be empty")
	}
	name, version, found := strings.Cut(s, "@")
	if name == "" {
		return Ref{}, fmt.Errorf("invalid tool reference %q", s)
	}
	if found {
		if _, err := ParseVersion(version); err != nil {
			return Ref{}, fmt.Errorf("invalid tool reference %q: %w", s, err)
		}
	}
	return Ref{Name: name, Version: version}, nil
}

// String reassembles the reference.
func (r Ref) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}
