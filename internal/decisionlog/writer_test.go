package decisionlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadscope-ai/verdict/internal/types"
)

func sampleRecord(toolName string) Record {
	return Record{
		DecisionID:  types.NewID(),
		ToolName:    toolName,
		RuleVersion: "1.0.0",
		EntityKey:   "lead-42",
		Input:       map[string]any{"employee_count": float64(250)},
		Output:      map[string]any{"value": 25.0},
		Confidence:  0.9,
		Success:     true,
		Latency:     12 * time.Millisecond,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestWriterPersistsAsynchronously(t *testing.T) {
	sink := NewMemorySink()
	w := NewWriter(sink)

	for i := 0; i < 10; i++ {
		w.Append(sampleRecord("score_lead"))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, 10, sink.Len())
}

func TestWriterRetriesTransientFailures(t *testing.T) {
	sink := NewMemorySink()
	sink.FailNext = 2

	w := NewWriter(sink, WithRetry(3, time.Millisecond))
	w.Append(sampleRecord("score_lead"))
	require.NoError(t, w.Close())

	// Two failed attempts, then success on the third.
	require.Equal(t, 1, sink.Len())
}

func TestWriterDropsAfterRetriesExhausted(t *testing.T) {
	sink := NewMemorySink()
	sink.FailNext = 10

	w := NewWriter(sink, WithRetry(2, time.Millisecond))
	w.Append(sampleRecord("score_lead"))
	require.NoError(t, w.Close())

	assert.Equal(t, 0, sink.Len())
}

func TestWriterDropsWhenBufferFull(t *testing.T) {
	sink := NewMemorySink()
	// Stall the sink long enough for the tiny buffer to overflow.
	sink.FailNext = 1

	w := NewWriter(sink, WithBufferSize(1), WithRetry(1, 50*time.Millisecond))
	for i := 0; i < 20; i++ {
		w.Append(sampleRecord("score_lead"))
	}
	require.NoError(t, w.Close())

	// Some records persisted, the overflow was dropped, and nothing blocked.
	assert.Less(t, sink.Len(), 20)
}

func TestWriterCloseDrainsQueue(t *testing.T) {
	sink := NewMemorySink()
	w := NewWriter(sink, WithBufferSize(100))

	for i := 0; i < 50; i++ {
		w.Append(sampleRecord("enrich_company"))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, 50, sink.Len())
}

func TestAssignVariantIsStable(t *testing.T) {
	first := AssignVariant("scoring-v2", "lead-42", nil)
	assert.Contains(t, DefaultVariants, first)

	for i := 0; i < 100; i++ {
		assert.Equal(t, first, AssignVariant("scoring-v2", "lead-42", nil))
	}
}

func TestAssignVariantDistributes(t *testing.T) {
	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		v := AssignVariant("scoring-v2", types.NewID().String(), nil)
		seen[v]++
	}
	// Both buckets get traffic; the exact split is hash-dependent.
	assert.Greater(t, seen["control"], 0)
	assert.Greater(t, seen["treatment"], 0)
}

func TestAssignVariantIndependentExperiments(t *testing.T) {
	// Entities must not land in the same bucket for every experiment.
	differs := false
	for i := 0; i < 50; i++ {
		key := types.NewID().String()
		if AssignVariant("exp-a", key, nil) != AssignVariant("exp-b", key, nil) {
			differs = true
			break
		}
	}
	assert.True(t, differs)
}

func TestAssignVariantCustomBuckets(t *testing.T) {
	variants := []string{"a", "b", "c"}
	v := AssignVariant("exp", "lead-1", variants)
	assert.Contains(t, variants, v)

	assert.Equal(t, "only", AssignVariant("exp", "lead-1", []string{"only"}))
}

func TestJSONLSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	rec := sampleRecord("score_lead")
	require.NoError(t, sink.Append(rec))
	require.NoError(t, sink.Append(sampleRecord("enrich_company")))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []Record
	for scanner.Scan() {
		var line Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, rec.DecisionID, lines[0].DecisionID)
	assert.Equal(t, "score_lead", lines[0].ToolName)
	assert.Equal(t, 25.0, lines[0].Output["value"])
}

func TestSQLiteSinkPersistsAndReadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdict.db")
	sink, err := NewSQLiteSink(path)
	require.NoError(t, err)

	rec := sampleRecord("score_lead")
	rec.ABVariant = "treatment"
	rec.Shadow = &ShadowResult{
		RuleVersion: "2.0.0",
		Output:      map[string]any{"value": 30.0},
		Confidence:  0.8,
		Latency:     5 * time.Millisecond,
	}
	require.NoError(t, sink.Append(rec))

	failed := sampleRecord("enrich_company")
	failed.Success = false
	failed.Output = nil
	failed.Error = "upstream unavailable"
	require.NoError(t, sink.Append(failed))
	require.NoError(t, sink.Close())

	records, err := ReadRecent(path, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	scored, err := ReadRecent(path, "score_lead", 10)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, rec.DecisionID, scored[0].DecisionID)
	assert.Equal(t, "treatment", scored[0].ABVariant)
	assert.Equal(t, 25.0, scored[0].Output["value"])
	require.NotNil(t, scored[0].Shadow)
	assert.Equal(t, "2.0.0", scored[0].Shadow.RuleVersion)

	enriched, err := ReadRecent(path, "enrich_company", 10)
	require.NoError(t, err)
	require.Len(t, enriched, 1)
	assert.False(t, enriched[0].Success)
	assert.Equal(t, "upstream unavailable", enriched[0].Error)
	assert.Nil(t, enriched[0].Output)
}

func TestSQLiteSinkIgnoresDuplicateDecisionIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdict.db")
	sink, err := NewSQLiteSink(path)
	require.NoError(t, err)
	defer sink.Close()

	rec := sampleRecord("score_lead")
	require.NoError(t, sink.Append(rec))
	require.NoError(t, sink.Append(rec))

	records, err := ReadRecent(path, "", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
