package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Execution is one persisted record.
type Execution struct {
	ID                int64     `json:"id"`
	RecordedAt        time.Time `json:"recordedAt"`
	Level             string    `json:"level"`
	Blocked           bool      `json:"blocked"`
	Confirmed         bool      `json:"confirmed"`
	TimedOut          bool      `json:"timedOut"`
	Truncated         bool      `json:"truncated"`
	TerminationReason string    `json:"terminationReason"`
	ExitCode          *int      `json:"exitCode,omitempty"`
	DurationMs        int64     `json:"durationMs"`
	TotalBytes        int64     `json:"totalBytes"`
	Preview           string    `json:"preview"`
	MatchedPatterns   []string  `json:"matchedPatterns,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	SessionID         string    `json:"sessionId,omitempty"`
}

// Filter narrows List queries. Zero values mean "no constraint".
type Filter struct {
	Level   string
	Blocked *bool
	Since   time.Time
	Limit   int
}

// Insert appends one execution record.
func (db *DB) Insert(e Execution) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var exitCode sql.NullInt64
	if e.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*e.ExitCode), Valid: true}
	}
	recordedAt := e.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := db.conn.Exec(`
INSERT INTO executions (
  recorded_at, level, blocked, confirmed, timed_out, truncated,
  termination_reason, exit_code, duration_ms, total_bytes,
  preview, matched_patterns, reason, session_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordedAt.Format(time.RFC3339Nano),
		e.Level,
		boolInt(e.Blocked),
		boolInt(e.Confirmed),
		boolInt(e.TimedOut),
		boolInt(e.Truncated),
		e.TerminationReason,
		exitCode,
		e.DurationMs,
		e.TotalBytes,
		e.Preview,
		strings.Join(e.MatchedPatterns, ","),
		e.Reason,
		e.SessionID,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// List returns records newest first, honoring the filter.
func (db *DB) List(f Filter) ([]Execution, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var conds []string
	var args []any
	if f.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, f.Level)
	}
	if f.Blocked != nil {
		conds = append(conds, "blocked = ?")
		args = append(args, boolInt(*f.Blocked))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	query := "SELECT id, recorded_at, level, blocked, confirmed, timed_out, truncated, termination_reason, exit_code, duration_ms, total_bytes, preview, matched_patterns, reason, session_id FROM executions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var recordedAt, matched string
		var blocked, confirmed, timedOut, truncated int
		var exitCode sql.NullInt64
		if err := rows.Scan(&e.ID, &recordedAt, &e.Level, &blocked, &confirmed, &timedOut,
			&truncated, &e.TerminationReason, &exitCode, &e.DurationMs, &e.TotalBytes,
			&e.Preview, &matched, &e.Reason, &e.SessionID); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, recordedAt); perr == nil {
			e.RecordedAt = t
		}
		e.Blocked = blocked != 0
		e.Confirmed = confirmed != 0
		e.TimedOut = timedOut != 0
		e.Truncated = truncated != 0
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		if matched != "" {
			e.MatchedPatterns = strings.Split(matched, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByLevel aggregates totals per classification level.
func (db *DB) CountByLevel() (map[string]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`SELECT level, COUNT(*) FROM executions GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("counting executions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		out[level] = n
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
