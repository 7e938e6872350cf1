package workflow

import (
	"fmt"
	"strings"

	"github.com/leadscope-ai/verdict/internal/types"
)

// Input and output mapping expressions.
//
// A mapping value is either a literal (carried through untouched) or a
// reference of the form ${path}, where path is a dotted field path rooted at
// a step alias, the workflow input, or the batch item:
//
//	${enrich.output.employee_count}   field of a completed step's output
//	${enrich.confidence}              a step's confidence
//	${input.region}                   workflow input field
//	${item.company_id}                current batch item field
//
// References resolve before the tool is attempted; an unresolvable reference
// fails the step with INPUT_MAPPING_ERROR and costs neither a handler call
// nor a breaker update. A value that merely embeds ${...} inside a longer
// string is interpolated textually.

// mappingScope is the data a mapping expression resolves against.
type mappingScope struct {
	steps map[string]*StepResult
	input map[string]any
	item  map[string]any
}

// resolveInputMapping materializes a step's input document from its mapping.
// Literal values pass through; ${...} references resolve against the scope.
// Nested maps and slices are resolved recursively.
func resolveInputMapping(mapping map[string]any, scope *mappingScope) (map[string]any, error) {
	if len(mapping) == 0 {
		return map[string]any{}, nil
	}

	out := make(map[string]any, len(mapping))
	for field, raw := range mapping {
		resolved, err := resolveMappingValue(raw, scope)
		if err != nil {
			return nil, types.WrapError(types.INPUT_MAPPING_ERROR,
				fmt.Sprintf("input field %q", field), err)
		}
		out[field] = resolved
	}
	return out, nil
}

// resolveOutputMapping composes the workflow's final output keyed by output
// field name. Assembly is deterministic: it depends only on the mapping and
// the per-alias results, never on completion order.
func resolveOutputMapping(mapping map[string]string, scope *mappingScope) (map[string]any, error) {
	out := make(map[string]any, len(mapping))
	for field, expr := range mapping {
		resolved, err := resolveMappingValue(expr, scope)
		if err != nil {
			return nil, types.WrapError(types.INPUT_MAPPING_ERROR,
				fmt.Sprintf("output field %q", field), err)
		}
		out[field] = resolved
	}
	return out, nil
}

func resolveMappingValue(raw any, scope *mappingScope) (any, error) {
	switch v := raw.(type) {
	case string:
		return resolveStringValue(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			resolved, err := resolveMappingValue(nested, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			resolved, err := resolveMappingValue(nested, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return raw, nil
	}
}

func resolveStringValue(s string, scope *mappingScope) (any, error) {
	// Whole-string reference keeps the resolved value's type.
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && strings.Count(s, "${") == 1 {
		return resolveReference(s[2:len(s)-1], scope)
	}

	// Embedded references interpolate textually.
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated reference in %q", s)
		}
		b.WriteString(rest[:start])
		value, err := resolveReference(rest[start+2:start+end], scope)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%v", value)
		rest = rest[start+end+1:]
	}
}

// resolveReference resolves a dotted path expression to its value.
func resolveReference(path string, scope *mappingScope) (any, error) {
	segments := strings.Split(strings.TrimSpace(path), ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, fmt.Errorf("empty reference")
	}

	var current any
	switch segments[0] {
	case "input":
		if scope.input == nil {
			return nil, fmt.Errorf("reference %q: no workflow input in scope", path)
		}
		current = scope.input
		segments = segments[1:]

	case "item":
		if scope.item == nil {
			return nil, fmt.Errorf("reference %q: no batch item in scope", path)
		}
		current = scope.item
		segments = segments[1:]

	default:
		alias := segments[0]
		result, ok := scope.steps[alias]
		if !ok {
			return nil, fmt.Errorf("reference %q: step %q has not completed", path, alias)
		}
		if result.Skipped {
			return nil, fmt.Errorf("reference %q: step %q was skipped", path, alias)
		}
		current = map[string]any{
			"output":     result.Output,
			"confidence": result.Confidence,
			"success":    result.Success,
		}
		segments = segments[1:]
	}

	for i, segment := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reference %q: cannot descend into %T at %q", path, current, segment)
		}
		value, exists := m[segment]
		if !exists {
			return nil, fmt.Errorf("reference %q: field %q not found", path, strings.Join(segments[:i+1], "."))
		}
		current = value
	}
	return current, nil
}
