// Package tool defines the decision-tool contract consumed by the registry
// and the workflow engine.
//
// A tool is an independently deployable decision function: structured business
// input in, scored output plus a confidence value out. The engine treats every
// tool as a black box behind this contract; scoring formulas, enrichment
// fetchers, and LLM prompt generation all live on the far side of it.
//
// Tools come in two kinds:
//
//   - STRICT: deterministic, side-effect-free rule evaluation. Eligible for
//     full autonomy when confidence is high enough.
//   - DELEGATED: calls out to a generative service. Its output is treated as
//     lower trust regardless of the reported confidence and is capped below
//     full autonomy by the trust gate.
//
// The kind is modeled as a closed set with one implementation per kind;
// callers never branch on it except in the trust gate's capping rule.
package tool
