package schema

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Compiled is a compiled schema ready for repeated validation.
// Compiling once at registration keeps validation off the per-invocation
// allocation path.
type Compiled struct {
	schema *jsonschema.Schema
}

// Compile compiles a JSONSchema declaration into a reusable validator.
// Returns nil for a zero schema: validation is then a no-op.
func Compile(s JSONSchema) (*Compiled, error) {
	if s.IsZero() {
		return nil, nil
	}

	doc, err := s.Document()
	if err != nil {
		return nil, fmt.Errorf("schema serialization failed: %w", err)
	}

	return CompileDocument(doc)
}

// CompileDocument compiles a raw draft-07 schema document.
func CompileDocument(doc map[string]any) (*Compiled, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", any(doc)); err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	return &Compiled{schema: sch}, nil
}

// Validate checks a document against the compiled schema.
// A nil receiver validates everything.
func (c *Compiled) Validate(doc any) error {
	if c == nil {
		return nil
	}
	if err := c.schema.Validate(normalize(doc)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// normalize converts Go-native values into the shape the validator expects.
// Tool handlers build outputs with typed ints and nested typed maps; the
// validator wants the generic JSON object model.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}
