package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteCreatesDailyPair(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	j.Write("info", CategoryExec, "command executed", map[string]any{"durationMs": 42})

	day := time.Now().UTC().Format("2006-01-02")
	humanPath := filepath.Join(dir, "audit-"+day+".log")
	machinePath := filepath.Join(dir, "audit-"+day+".ndjson")

	if _, err := os.Stat(humanPath); err != nil {
		t.Errorf("human log missing: %v", err)
	}
	machine, err := os.ReadFile(machinePath)
	if err != nil {
		t.Fatalf("machine log missing: %v", err)
	}

	// NDJSON: every line is one complete JSON object.
	scanner := bufio.NewScanner(strings.NewReader(string(machine)))
	lines := 0
	for scanner.Scan() {
		lines++
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Errorf("line %d is not valid JSON: %v", lines, err)
		}
		if entry.Category != CategoryExec {
			t.Errorf("category = %q", entry.Category)
		}
	}
	if lines != 1 {
		t.Errorf("machine log lines = %d, want 1", lines)
	}
}

func TestMetadataSanitization(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	huge := strings.Repeat("x", 4096)
	j.Write("info", CategoryExec, "m", map[string]any{
		"big":    huge,
		"nested": map[string]any{"deep": "value"},
		"num":    7,
	})

	day := time.Now().UTC().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, "audit-"+day+".ndjson"))
	if err != nil {
		t.Fatalf("reading machine log: %v", err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}

	big, _ := entry.Metadata["big"].(string)
	if len(big) > maxMetadataString+32 {
		t.Errorf("string not truncated: %d chars", len(big))
	}
	if !strings.HasSuffix(big, "...[truncated]") {
		t.Errorf("truncation marker missing: %q", big[len(big)-24:])
	}
	if entry.Metadata["nested"] != "[object]" {
		t.Errorf("nested metadata = %v, want placeholder", entry.Metadata["nested"])
	}
	if entry.Metadata["num"] != float64(7) {
		t.Errorf("numeric metadata = %v", entry.Metadata["num"])
	}
}

func TestWriteFailureDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	// Remove the directory out from under the journal; writes must degrade
	// to stderr without surfacing errors.
	os.RemoveAll(dir)
	j.Write("warn", CategoryCommandBlocked, "still alive", nil)
}

func TestCloseIsIdempotent(t *testing.T) {
	j, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	j.Write("info", CategoryExec, "m", nil)
	if err := j.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
