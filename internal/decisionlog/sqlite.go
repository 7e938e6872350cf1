package decisionlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	decision_id   TEXT PRIMARY KEY,
	tool_name     TEXT NOT NULL,
	rule_version  TEXT NOT NULL,
	entity_key    TEXT,
	input_json    TEXT NOT NULL,
	output_json   TEXT,
	confidence    REAL NOT NULL,
	success       INTEGER NOT NULL,
	error         TEXT,
	latency_ms    INTEGER NOT NULL,
	ab_variant    TEXT,
	shadow_json   TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_tool ON decisions(tool_name, rule_version);
CREATE INDEX IF NOT EXISTS idx_decisions_entity ON decisions(entity_key);
`

// SQLiteSink persists decision records to a SQLite database.
// Appends use INSERT OR IGNORE keyed on decision_id, so the writer's
// at-least-once retries never produce duplicate rows.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens a SQLite database and runs migrations.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Append persists one record.
func (s *SQLiteSink) Append(rec Record) error {
	inputJSON, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	var outputJSON []byte
	if rec.Output != nil {
		outputJSON, err = json.Marshal(rec.Output)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
	}

	var shadowJSON []byte
	if rec.Shadow != nil {
		shadowJSON, err = json.Marshal(rec.Shadow)
		if err != nil {
			return fmt.Errorf("marshal shadow: %w", err)
		}
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO decisions (
			decision_id, tool_name, rule_version, entity_key,
			input_json, output_json, confidence, success, error,
			latency_ms, ab_variant, shadow_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DecisionID.String(),
		rec.ToolName,
		rec.RuleVersion,
		nullable(rec.EntityKey),
		string(inputJSON),
		nullableBytes(outputJSON),
		rec.Confidence,
		boolToInt(rec.Success),
		nullable(rec.Error),
		rec.Latency.Milliseconds(),
		nullable(rec.ABVariant),
		nullableBytes(shadowJSON),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteSink implements Sink at compile time.
var _ Sink = (*SQLiteSink)(nil)
