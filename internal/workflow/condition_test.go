package workflow

import (
	"testing"
)

func testEvalContext() *EvalContext {
	return &EvalContext{
		Steps: map[string]*StepResult{
			"enrich": {
				StepID:     "enrich",
				Alias:      "enrich",
				Tool:       "company-enrich",
				Success:    true,
				Confidence: 0.92,
				Output: map[string]any{
					"domain":         "acme.io",
					"employee_count": float64(250),
					"segments":       []any{"saas", "mid-market"},
					"signals":        map[string]any{"hiring": true},
				},
			},
			"search": {
				StepID:  "search",
				Alias:   "search",
				Tool:    "contact-search",
				Success: false,
				Error:   "upstream unavailable",
				Output:  map[string]any{},
			},
			"gated": {
				StepID:  "gated",
				Alias:   "gated",
				Tool:    "intent-check",
				Skipped: true,
			},
		},
		Input: map[string]any{
			"region":       "emea",
			"force_lookup": true,
			"min_size":     float64(100),
		},
	}
}

func TestConditionEvaluator(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{"boolean literal true", "true", true, false},
		{"boolean literal false", "false", false, false},
		{"step success", "steps.enrich.success", true, false},
		{"step failure", "steps.search.success", false, false},
		{"step skipped flag", "steps.gated.skipped", true, false},
		{"output field equality", `steps.enrich.output.domain == "acme.io"`, true, false},
		{"output field inequality", `steps.enrich.output.domain != "other.io"`, true, false},
		{"numeric greater than", "steps.enrich.output.employee_count > 100", true, false},
		{"numeric less than fails", "steps.enrich.output.employee_count < 100", false, false},
		{"numeric gte boundary", "steps.enrich.output.employee_count >= 250", true, false},
		{"confidence comparison", "steps.enrich.confidence >= 0.9", true, false},
		{"and both true", "steps.enrich.success && steps.enrich.output.employee_count > 50", true, false},
		{"and short side false", "steps.enrich.success && steps.search.success", false, false},
		{"or one true", "steps.search.success || steps.enrich.success", true, false},
		{"not operator", "!steps.search.success", true, false},
		{"double negation", "!!steps.enrich.success", true, false},
		{"parenthesized grouping", "(steps.search.success || steps.enrich.success) && true", true, false},
		{"input variable", "input.force_lookup", true, false},
		{"input field equality", `input.region == "emea"`, true, false},
		{"input in comparison", "steps.enrich.output.employee_count > input.min_size", true, false},
		{"len of array", "len(steps.enrich.output.segments) > 0", true, false},
		{"len of string", `len(steps.enrich.output.domain) == 7`, true, false},
		{"empty of populated map", "empty(steps.enrich.output.signals)", false, false},
		{"not empty", "!empty(steps.enrich.output.segments)", true, false},
		{"exists on present field", "exists(steps.enrich.output.domain)", true, false},
		{"exists on missing field", "exists(steps.enrich.output.missing)", false, false},
		{"array indexing", `steps.enrich.output.segments[0] == "saas"`, true, false},
		{"map indexing with dot chain", `steps.enrich.output.signals["hiring"]`, true, false},
		{"unknown step alias", "steps.nope.success", false, true},
		{"unknown path root", "leads.enrich.success", false, true},
		{"non-boolean result", "steps.enrich.output.employee_count", false, true},
		{"unterminated string", `steps.enrich.output.domain == "acme`, false, true},
		{"unknown function", "count(steps.enrich.output.segments)", false, true},
		{"comparison of bool and number", "steps.enrich.success > 1", false, true},
		{"trailing garbage", "true true", false, true},
		{"unexpected character", "steps.enrich.success @ true", false, true},
	}

	ce := NewConditionEvaluator()
	ec := testEvalContext()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ce.Evaluate(tt.expr, ec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Evaluate(%q) expected error, got %v", tt.expr, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate(%q) unexpected error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestConditionEvaluatorCustomFunction(t *testing.T) {
	ce := NewConditionEvaluator()
	ce.RegisterFunction("qualified", func(args []any) (any, error) {
		count, _ := toNumber(args[0])
		return count >= 100, nil
	})

	got, err := ce.Evaluate("qualified(steps.enrich.output.employee_count)", testEvalContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("expected custom function to qualify the lead")
	}
}

func TestConditionEvaluatorPrecedence(t *testing.T) {
	// && binds tighter than ||.
	ce := NewConditionEvaluator()
	got, err := ce.Evaluate("true || false && false", testEvalContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("expected || to have lower precedence than &&")
	}
}
