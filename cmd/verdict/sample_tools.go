package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadscope-ai/verdict/internal/engine"
	"github.com/leadscope-ai/verdict/internal/schema"
	"github.com/leadscope-ai/verdict/internal/tool"
)

// registerSampleTools installs a small deterministic toolset so the example
// workflows under examples/workflows run out of the box. Real deployments
// register their own tools through the engine API; these exist for demos and
// smoke tests only.
func registerSampleTools(e *engine.Engine) error {
	defs := []tool.Definition{
		{
			Name:        "enrich_company",
			Version:     "1.0.0",
			Description: "Derives firmographic fields from a company name and domain",
			Kind:        tool.KindStrict,
			InputSchema: schema.NewObjectSchema(map[string]schema.Field{
				"name":   schema.NewStringField("company name"),
				"domain": schema.NewStringField("primary domain"),
			}, []string{"name"}),
			Handler: enrichCompany,
		},
		{
			Name:        "score_lead",
			Version:     "1.2.0",
			Description: "Scores a lead from firmographic fields",
			Kind:        tool.KindStrict,
			InputSchema: schema.NewObjectSchema(map[string]schema.Field{
				"employee_count": schema.NewIntegerField("headcount").WithMin(0),
				"industry":       schema.NewStringField("industry label"),
			}, []string{"employee_count"}),
			OutputSchema: schema.NewObjectSchema(map[string]schema.Field{
				"value":   schema.NewNumberField("score in [0,100]").WithMinMax(0, 100),
				"reasons": schema.NewArrayField("ranked factors", schema.NewStringField("factor")),
			}, []string{"value"}),
			Handler: scoreLead,
		},
		{
			Name:        "draft_outreach",
			Version:     "1.0.0",
			Description: "Drafts an outreach message from talking points",
			Kind:        tool.KindDelegated,
			Handler:     draftOutreach,
		},
		{
			Name:        "classify_ticket",
			Version:     "1.0.0",
			Description: "Buckets an inbound ticket by subject keywords",
			Kind:        tool.KindStrict,
			InputSchema: schema.NewObjectSchema(map[string]schema.Field{
				"subject": schema.NewStringField("ticket subject"),
				"body":    schema.NewStringField("ticket body"),
			}, []string{"subject"}),
			Handler: classifyTicket,
		},
	}

	for _, def := range defs {
		if err := e.RegisterTool(def); err != nil {
			return err
		}
	}
	return nil
}

func enrichCompany(ctx context.Context, input map[string]any) (*tool.Result, error) {
	name, _ := input["name"].(string)
	domain, _ := input["domain"].(string)
	if domain == "" {
		domain = strings.ToLower(strings.ReplaceAll(name, " ", "")) + ".com"
	}
	// Deterministic pseudo-enrichment keyed on the name length.
	count := 25 * (len(name)%8 + 1)
	return &tool.Result{
		Output: map[string]any{
			"name":           name,
			"domain":         domain,
			"employee_count": count,
			"industry":       "software",
		},
		Confidence: 0.95,
		Evidence: []tool.Citation{
			{Source: "sample-enrichment", Detail: "derived from input", Weight: 1},
		},
	}, nil
}

func scoreLead(ctx context.Context, input map[string]any) (*tool.Result, error) {
	count := toFloat(input["employee_count"])
	score := count / 2
	if score > 100 {
		score = 100
	}
	reasons := []any{fmt.Sprintf("employee_count=%d", int(count))}
	if industry, _ := input["industry"].(string); industry != "" {
		reasons = append(reasons, "industry="+industry)
	}
	return &tool.Result{
		Output:     map[string]any{"value": score, "reasons": reasons},
		Confidence: 0.9,
	}, nil
}

func draftOutreach(ctx context.Context, input map[string]any) (*tool.Result, error) {
	company, _ := input["company"].(string)
	return &tool.Result{
		Output: map[string]any{
			"body": fmt.Sprintf("Hi %s team — saw your growth and wanted to connect.", company),
		},
		Confidence: 0.8,
	}, nil
}

func classifyTicket(ctx context.Context, input map[string]any) (*tool.Result, error) {
	subject, _ := input["subject"].(string)
	category := "general"
	switch {
	case strings.Contains(strings.ToLower(subject), "refund"):
		category = "billing"
	case strings.Contains(strings.ToLower(subject), "error"),
		strings.Contains(strings.ToLower(subject), "bug"):
		category = "support"
	}
	return &tool.Result{
		Output:     map[string]any{"category": category},
		Confidence: 0.85,
	}, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
