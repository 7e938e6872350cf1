package decisionlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadscope-ai/verdict/internal/types"
)

// ReadRecent opens a SQLite decision log and returns the most recent records,
// newest first. The engine never calls this; it exists for operator tooling
// that inspects the audit trail after the fact. An empty toolName matches all
// tools.
func ReadRecent(dbPath, toolName string, limit int) ([]Record, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	query := `
		SELECT decision_id, tool_name, rule_version, entity_key,
		       input_json, output_json, confidence, success, error,
		       latency_ms, ab_variant, shadow_json, created_at
		FROM decisions`
	args := []any{}
	if toolName != "" {
		query += " WHERE tool_name = ?"
		args = append(args, toolName)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec        Record
		decisionID string
		entityKey  sql.NullString
		inputJSON  string
		outputJSON sql.NullString
		success    int
		errText    sql.NullString
		latencyMS  int64
		abVariant  sql.NullString
		shadowJSON sql.NullString
		createdAt  string
	)
	if err := rows.Scan(&decisionID, &rec.ToolName, &rec.RuleVersion, &entityKey,
		&inputJSON, &outputJSON, &rec.Confidence, &success, &errText,
		&latencyMS, &abVariant, &shadowJSON, &createdAt); err != nil {
		return rec, fmt.Errorf("scan decision: %w", err)
	}

	rec.DecisionID = types.ID(decisionID)
	rec.EntityKey = entityKey.String
	rec.Success = success != 0
	rec.Error = errText.String
	rec.Latency = time.Duration(latencyMS) * time.Millisecond
	rec.ABVariant = abVariant.String

	if err := json.Unmarshal([]byte(inputJSON), &rec.Input); err != nil {
		return rec, fmt.Errorf("unmarshal input: %w", err)
	}
	if outputJSON.Valid {
		if err := json.Unmarshal([]byte(outputJSON.String), &rec.Output); err != nil {
			return rec, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if shadowJSON.Valid {
		var shadow ShadowResult
		if err := json.Unmarshal([]byte(shadowJSON.String), &shadow); err != nil {
			return rec, fmt.Errorf("unmarshal shadow: %w", err)
		}
		rec.Shadow = &shadow
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = ts
	}
	return rec, nil
}
