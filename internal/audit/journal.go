// Package audit writes the dual-format append-only audit journals: a
// pretty-printed human log and a strict NDJSON machine log, one pair per
// calendar day, with every entry mirrored to stderr.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Categories used by the request pipeline.
const (
	CategoryAuthFailed        = "AUTH_FAILED"
	CategoryRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CategoryCommandBlocked    = "COMMAND_BLOCKED"
	CategoryConfirmRequired   = "CONFIRMED_REQUIRED"
	CategoryExec              = "POWERSHELL_EXEC"
	CategoryPolicyChanged     = "POLICY_CHANGED"
	CategoryLearning          = "LEARNING"
)

// maxMetadataString caps metadata string values before truncation.
const maxMetadataString = 512

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Journal owns the daily file pair. Write failures are reported on stderr
// and never surfaced to callers.
type Journal struct {
	mu      sync.Mutex
	logsDir string
	day     string
	human   *os.File
	machine *os.File
	mirror  zerolog.Logger
}

// NewJournal creates the journal rooted at logsDir.
func NewJournal(logsDir string) (*Journal, error) {
	if logsDir == "" {
		return nil, fmt.Errorf("logs dir is required")
	}
	if err := os.MkdirAll(logsDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	return &Journal{
		logsDir: logsDir,
		mirror:  zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}, nil
}

// Write sanitizes metadata and appends the entry to both files plus the
// stderr mirror.
func (j *Journal) Write(level, category, message string, metadata map[string]any) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Category:  category,
		Message:   message,
		Metadata:  sanitizeMetadata(metadata),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.ensureFilesLocked(entry.Timestamp); err != nil {
		fmt.Fprintf(os.Stderr, "audit: opening journals failed: %v\n", err)
	}

	if j.human != nil {
		pretty, err := json.MarshalIndent(entry, "", "  ")
		if err == nil {
			if _, werr := j.human.Write(append(pretty, '\n')); werr != nil {
				fmt.Fprintf(os.Stderr, "audit: human log write failed: %v\n", werr)
			}
		}
	}
	if j.machine != nil {
		line, err := json.Marshal(entry)
		if err == nil {
			if _, werr := j.machine.Write(append(line, '\n')); werr != nil {
				fmt.Fprintf(os.Stderr, "audit: machine log write failed: %v\n", werr)
			}
		}
	}

	ev := j.mirror.Info()
	if level == "warn" || level == "error" {
		ev = j.mirror.Warn()
	}
	ev.Str("category", entry.Category).
		Interface("metadata", entry.Metadata).
		Msg(entry.Message)
}

// ensureFilesLocked reopens the file pair when the calendar day changes.
func (j *Journal) ensureFilesLocked(now time.Time) error {
	day := now.Format("2006-01-02")
	if day == j.day && j.human != nil && j.machine != nil {
		return nil
	}
	j.closeLocked()

	humanPath := filepath.Join(j.logsDir, "audit-"+day+".log")
	machinePath := filepath.Join(j.logsDir, "audit-"+day+".ndjson")

	human, err := os.OpenFile(humanPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	machine, err := os.OpenFile(machinePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		human.Close()
		return err
	}
	j.day = day
	j.human = human
	j.machine = machine
	return nil
}

// Close flushes and closes the current file pair.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closeLocked()
	return nil
}

func (j *Journal) closeLocked() {
	if j.human != nil {
		j.human.Close()
		j.human = nil
	}
	if j.machine != nil {
		j.machine.Close()
		j.machine = nil
	}
}

// sanitizeMetadata truncates long strings and collapses nested structures to
// a placeholder so one entry cannot amplify the log.
func sanitizeMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			if len(val) > maxMetadataString {
				out[k] = val[:maxMetadataString] + "...[truncated]"
			} else {
				out[k] = val
			}
		case nil, bool, int, int32, int64, float32, float64, time.Time:
			out[k] = val
		case json.Number:
			out[k] = val
		default:
			out[k] = "[object]"
		}
	}
	return out
}

