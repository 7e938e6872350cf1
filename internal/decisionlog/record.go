// Package decisionlog provides the append-only audit trail for tool
// decisions.
//
// Every non-skipped, non-short-circuited tool invocation produces exactly one
// Record. Records are immutable once written and are never read back or
// deleted by the engine; retention and analytics are downstream concerns.
// Persistence is asynchronous: the invoking path queues the record and moves
// on, and the writer owns retry with backoff. At-least-once delivery is the
// contract - a duplicate record is tolerable, a caller blocked on the log is
// not.
package decisionlog

import (
	"hash/fnv"
	"time"

	"github.com/leadscope-ai/verdict/internal/types"
)

// Record is a single immutable decision audit entry.
type Record struct {
	DecisionID  types.ID       `json:"decision_id"`
	ToolName    string         `json:"tool_name"`
	RuleVersion string         `json:"rule_version"`
	EntityKey   string         `json:"entity_key,omitempty"`
	Input       map[string]any `json:"input"`
	Output      map[string]any `json:"output,omitempty"`
	Confidence  float64        `json:"confidence"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Latency     time.Duration  `json:"latency"`
	ABVariant   string         `json:"ab_variant,omitempty"`
	Shadow      *ShadowResult  `json:"shadow_result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ShadowResult captures the outcome of a shadow-mode candidate execution.
// It exists purely for offline comparison: it is never returned to callers
// and never influences the primary tool's circuit breaker.
type ShadowResult struct {
	RuleVersion string         `json:"rule_version"`
	Output      map[string]any `json:"output,omitempty"`
	Confidence  float64        `json:"confidence"`
	Error       string         `json:"error,omitempty"`
	Latency     time.Duration  `json:"latency"`
}

// Recorder accepts decision records for asynchronous persistence.
// Append must never block the caller's critical path.
type Recorder interface {
	Append(rec Record)
}

// Sink is the append-only persistence interface behind the writer. The engine
// only appends; it never queries or deletes.
type Sink interface {
	// Append persists one record. The writer retries transient failures.
	Append(rec Record) error

	// Close releases sink resources.
	Close() error
}

// DefaultVariants are the experiment buckets used when a caller enables an
// experiment without naming its variants.
var DefaultVariants = []string{"control", "treatment"}

// AssignVariant deterministically buckets an entity into an experiment
// variant. The hash covers experiment and entity key, so the same entity
// lands in the same bucket on every invocation and retry, while different
// experiments shuffle independently.
func AssignVariant(experiment, entityKey string, variants []string) string {
	if len(variants) == 0 {
		variants = DefaultVariants
	}
	if len(variants) == 1 {
		return variants[0]
	}

	h := fnv.New64a()
	h.Write([]byte(experiment))
	h.Write([]byte{0})
	h.Write([]byte(entityKey))
	return variants[h.Sum64()%uint64(len(variants))]
}
