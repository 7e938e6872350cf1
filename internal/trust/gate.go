// Package trust classifies decision results into autonomy tiers. The gate is
// a pure, stateless classifier applied after a decision is produced; it never
// mutates engine state.
package trust

import (
	"fmt"

	"github.com/leadscope-ai/verdict/internal/tool"
	"github.com/leadscope-ai/verdict/internal/types"
)

// Level buckets a numeric confidence into a coarse band.
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// Tier is the autonomy tier consumed by calling surfaces. Ordering matters:
// a lower tier grants more autonomy.
type Tier string

const (
	TierAutoExecute         Tier = "AUTO_EXECUTE"
	TierShowWithOverride    Tier = "SHOW_WITH_OVERRIDE"
	TierRequireConfirmation Tier = "REQUIRE_CONFIRMATION"
	TierHumanReview         Tier = "HUMAN_REVIEW"
)

// Label is the gate's verdict for a single decision result.
type Label struct {
	Level      Level           `json:"confidence_level"`
	Tier       Tier            `json:"autonomy_tier"`
	Confidence float64         `json:"confidence"`
	Evidence   []tool.Citation `json:"evidence,omitempty"`
}

// Thresholds are the confidence cut points, highest first. Each value is
// inclusive at its lower bound.
type Thresholds struct {
	AutoExecute         float64 `json:"auto_execute"`
	ShowWithOverride    float64 `json:"show_with_override"`
	RequireConfirmation float64 `json:"require_confirmation"`
}

// DefaultThresholds returns the standard cut points. Production deployments
// tune these through configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoExecute:         0.90,
		ShowWithOverride:    0.75,
		RequireConfirmation: 0.60,
	}
}

// Validate checks that the thresholds are in (0, 1] and strictly descending.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"auto_execute":         t.AutoExecute,
		"show_with_override":   t.ShowWithOverride,
		"require_confirmation": t.RequireConfirmation,
	} {
		if v <= 0 || v > 1 {
			return types.NewError(types.CONFIG_VALIDATION_FAILED,
				fmt.Sprintf("trust threshold %s must be in (0, 1], got %v", name, v))
		}
	}
	if t.AutoExecute <= t.ShowWithOverride || t.ShowWithOverride <= t.RequireConfirmation {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"trust thresholds must be strictly descending: auto_execute > show_with_override > require_confirmation")
	}
	return nil
}

// Gate maps tool kind and confidence to an autonomy tier.
type Gate struct {
	thresholds Thresholds
}

// NewGate builds a gate with the given thresholds, falling back to the
// defaults for a zero value.
func NewGate(t Thresholds) (*Gate, error) {
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Gate{thresholds: t}, nil
}

// MustNewGate is NewGate that panics on invalid thresholds. For wiring with
// compile-time-known constants.
func MustNewGate(t Thresholds) *Gate {
	g, err := NewGate(t)
	if err != nil {
		panic(err)
	}
	return g
}

// Label classifies a single result. DELEGATED output is capped at
// SHOW_WITH_OVERRIDE regardless of confidence: generated content never
// auto-executes.
func (g *Gate) Label(kind tool.Kind, confidence float64, evidence []tool.Citation) Label {
	level, tier := g.classify(confidence)
	if kind == tool.KindDelegated && tier == TierAutoExecute {
		tier = TierShowWithOverride
	}
	return Label{
		Level:      level,
		Tier:       tier,
		Confidence: confidence,
		Evidence:   evidence,
	}
}

// LabelResult classifies a tool result directly.
func (g *Gate) LabelResult(kind tool.Kind, res *tool.Result) Label {
	if res == nil {
		return Label{Level: LevelLow, Tier: TierHumanReview}
	}
	return g.Label(kind, res.Confidence, res.Evidence)
}

func (g *Gate) classify(confidence float64) (Level, Tier) {
	switch {
	case confidence >= g.thresholds.AutoExecute:
		return LevelHigh, TierAutoExecute
	case confidence >= g.thresholds.ShowWithOverride:
		return LevelHigh, TierShowWithOverride
	case confidence >= g.thresholds.RequireConfirmation:
		return LevelMedium, TierRequireConfirmation
	default:
		return LevelLow, TierHumanReview
	}
}
