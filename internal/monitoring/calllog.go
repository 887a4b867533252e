// Package monitoring - calllog.go persists per-call records to SQLite.
//
// DESIGN: Optional audit trail of every tool call that passed through the
// proxy. Enabled by proxySettings.callLogPath; a nil *CallLog is a valid
// no-op so call sites never branch on whether logging is configured.
package monitoring

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const callLogSchema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             TEXT    NOT NULL,
	tool           TEXT    NOT NULL,
	agent          TEXT    NOT NULL DEFAULT '',
	original_bytes INTEGER NOT NULL,
	filtered_bytes INTEGER NOT NULL,
	truncated      INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_ts ON tool_calls (ts);
`

// CallLog writes one row per proxied tool call.
type CallLog struct {
	db *sql.DB
}

// OpenCallLog opens (and creates if needed) the call log database.
// An empty path returns a nil log, which discards all records.
func OpenCallLog(path string) (*CallLog, error) {
	if path == "" {
		return nil, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log %q: %w", path, err)
	}
	// SQLite handles one writer at a time; serialise through a single conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(callLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise call log schema: %w", err)
	}

	log.Info().Str("path", path).Msg("call log enabled")
	return &CallLog{db: db}, nil
}

// Record inserts one call row. Errors are logged, not returned: the call
// log must never fail a tool call.
func (c *CallLog) Record(tool, agent string, originalSize, filteredSize int, truncated bool, duration time.Duration) {
	if c == nil {
		return
	}

	t := 0
	if truncated {
		t = 1
	}
	_, err := c.db.Exec(
		`INSERT INTO tool_calls (ts, tool, agent, original_bytes, filtered_bytes, truncated, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		tool, agent, originalSize, filteredSize, t, duration.Milliseconds(),
	)
	if err != nil {
		log.Warn().Err(err).Str("tool", tool).Msg("call log insert failed")
	}
}

// Count returns the number of recorded calls.
func (c *CallLog) Count() (int64, error) {
	if c == nil {
		return 0, nil
	}
	var n int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM tool_calls`).Scan(&n)
	return n, err
}

// Close flushes and closes the database.
func (c *CallLog) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}
