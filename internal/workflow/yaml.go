// YAML loading for workflow definitions.
//
// Definitions are written in a small declarative format and validated
// structurally on load:
//
//	id: lead-qualification
//	name: Lead qualification pipeline
//	execution_mode: sequential
//	timeout: 30s
//	steps:
//	  - id: enrich
//	    tool_ref: company-enrich@1.2.0
//	    required: true
//	    input_mapping:
//	      domain: ${input.domain}
//	  - id: score
//	    tool_ref: lead-score
//	    depends_on:
//	      - enrich
//	    input_mapping:
//	      employee_count: ${enrich.output.employee_count}
//	output_mapping:
//	  score: ${score.output.value}
//
// Timeout accepts Go duration strings ("300ms", "5s", "2m") via the timeout
// key, or milliseconds via timeout_ms.
package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leadscope-ai/verdict/internal/types"
)

// yamlWorkflow is the on-disk shape of a workflow definition.
type yamlWorkflow struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Mode           string            `yaml:"execution_mode"`
	Timeout        string            `yaml:"timeout"`
	TimeoutMS      int64             `yaml:"timeout_ms"`
	MaxConcurrency int               `yaml:"max_concurrency"`
	Steps          []yamlStep        `yaml:"steps"`
	OutputMapping  map[string]string `yaml:"output_mapping"`
}

type yamlStep struct {
	ID            string         `yaml:"id"`
	ToolRef       string         `yaml:"tool_ref"`
	Alias         string         `yaml:"alias"`
	Required      bool           `yaml:"required"`
	ConditionExpr string         `yaml:"condition_expr"`
	InputMapping  map[string]any `yaml:"input_mapping"`
	DependsOn     []string       `yaml:"depends_on"`
	OnError       string         `yaml:"on_error"`
	FallbackValue map[string]any `yaml:"fallback_value"`
	FallbackFor   string         `yaml:"fallback_for"`
}

// Parse converts raw YAML bytes into a validated Definition.
func Parse(data []byte) (*Definition, error) {
	var raw yamlWorkflow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, types.WrapError(types.INVALID_INPUT, "malformed workflow YAML", err)
	}

	def := &Definition{
		ID:             raw.ID,
		Name:           raw.Name,
		Description:    raw.Description,
		Mode:           Mode(raw.Mode),
		MaxConcurrency: raw.MaxConcurrency,
		OutputMapping:  raw.OutputMapping,
	}

	switch {
	case raw.Timeout != "":
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return nil, types.WrapError(types.INVALID_INPUT,
				fmt.Sprintf("workflow %q: invalid timeout %q", raw.ID, raw.Timeout), err)
		}
		def.Timeout = timeout
	case raw.TimeoutMS > 0:
		def.Timeout = time.Duration(raw.TimeoutMS) * time.Millisecond
	}

	def.Steps = make([]Step, 0, len(raw.Steps))
	for _, s := range raw.Steps {
		def.Steps = append(def.Steps, Step{
			ID:            s.ID,
			ToolRef:       s.ToolRef,
			Alias:         s.Alias,
			Required:      s.Required,
			ConditionExpr: s.ConditionExpr,
			InputMapping:  s.InputMapping,
			DependsOn:     s.DependsOn,
			OnError:       OnError(s.OnError),
			FallbackValue: s.FallbackValue,
			FallbackFor:   s.FallbackFor,
		})
	}

	if err := NewValidator().Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

// Load reads and parses a workflow definition from a file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.INVALID_INPUT,
			fmt.Sprintf("reading workflow file %s", path), err)
	}
	return Parse(data)
}
