package learning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/psgate/psgate/internal/patterns"
)

func newPipeline(t *testing.T) (*Pipeline, *patterns.Store) {
	t.Helper()
	store := patterns.NewStore()
	p, err := NewPipeline(PipelineOptions{
		DataDir: t.TempDir(),
		Secret:  "test-secret",
	}, store)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, store
}

func TestRecordAndAggregate(t *testing.T) {
	p, _ := newPipeline(t)

	p.RecordUnknown("frobnicate --things", "s1")
	p.RecordUnknown("Frobnicate   --things", "s2")
	p.RecordUnknown("other-command", "s1")

	aggs, err := p.Aggregate()
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("len(aggs) = %d, want 2", len(aggs))
	}
	// Sorted by count descending; the repeated form comes first.
	top := aggs[0]
	if top.Normalized != "frobnicate --things" {
		t.Errorf("top normalized = %q", top.Normalized)
	}
	if top.Count != 2 {
		t.Errorf("top count = %d, want 2", top.Count)
	}
	if top.DistinctSessions != 2 {
		t.Errorf("distinct sessions = %d, want 2", top.DistinctSessions)
	}
}

func TestJournalNeverStoresRawText(t *testing.T) {
	store := patterns.NewStore()
	dir := t.TempDir()
	p, err := NewPipeline(PipelineOptions{DataDir: dir, Secret: "k"}, store)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	p.RecordUnknown(`Invoke-Thing C:\Users\alice\private.doc`, "s1")

	data, err := os.ReadFile(filepath.Join(dir, "learnCandidates.jsonl"))
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	if string(data) == "" {
		t.Fatal("journal is empty")
	}
	for _, leak := range []string{"alice", "private.doc", `C:\Users`} {
		if contains(string(data), leak) {
			t.Errorf("journal leaked %q", leak)
		}
	}
}

func TestJournalRotation(t *testing.T) {
	store := patterns.NewStore()
	dir := t.TempDir()
	p, err := NewPipeline(PipelineOptions{DataDir: dir, Secret: "k", JournalMaxBytes: 256}, store)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	for i := 0; i < 20; i++ {
		p.RecordUnknown("some-long-unmatched-command --with --flags", "s1")
	}
	if _, err := os.Stat(filepath.Join(dir, "learnCandidates.jsonl.1")); err != nil {
		t.Errorf("expected rotated journal generation: %v", err)
	}
	// Aggregation still reads across the rotation boundary; the oldest
	// generation may have aged out, but the form survives.
	aggs, err := p.Aggregate()
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(aggs) != 1 || aggs[0].Count < 1 {
		t.Errorf("aggregate after rotation = %+v", aggs)
	}
}

func TestQueueLifecycle(t *testing.T) {
	p, _ := newPipeline(t)

	if err := p.Queue([]string{"get-widget", "run-thing"}); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if err := p.Queue([]string{"get-widget"}); err != nil {
		t.Fatalf("Queue again: %v", err)
	}

	entries, err := p.ListQueue()
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Normalized == "get-widget" && e.TimesQueued != 2 {
			t.Errorf("re-queue did not bump counter: %+v", e)
		}
	}

	removed, err := p.RemoveFromQueue([]string{"run-thing"})
	if err != nil {
		t.Fatalf("RemoveFromQueue: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	entries, _ = p.ListQueue()
	if len(entries) != 1 {
		t.Errorf("queue length after remove = %d, want 1", len(entries))
	}
}

func TestApprovePersistsAndMutatesStore(t *testing.T) {
	store := patterns.NewStore()
	dir := t.TempDir()
	p, err := NewPipeline(PipelineOptions{DataDir: dir, Secret: "k"}, store)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if err := p.Queue([]string{"get-widget"}); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	approved, err := p.Approve([]string{"get-widget"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(approved) != 1 {
		t.Fatalf("approved = %+v", approved)
	}

	// Store mutation is visible to new snapshots.
	if store.CurrentSnapshot().Match(patterns.GroupLearnedSafe, "get-widget") == nil {
		t.Error("approved pattern not installed in store")
	}
	// Approval cleared the queue.
	entries, _ := p.ListQueue()
	if len(entries) != 0 {
		t.Errorf("queue not cleared after approval: %+v", entries)
	}
	// Persisted to learned-safe.json.
	data, err := os.ReadFile(filepath.Join(dir, "learned-safe.json"))
	if err != nil {
		t.Fatalf("reading learned-safe.json: %v", err)
	}
	if !contains(string(data), "get-widget") {
		t.Error("learned-safe.json missing approved form")
	}

	// A fresh pipeline over the same data dir reinstalls the promotion.
	store2 := patterns.NewStore()
	if _, err := NewPipeline(PipelineOptions{DataDir: dir, Secret: "k"}, store2); err != nil {
		t.Fatalf("NewPipeline reload: %v", err)
	}
	if store2.CurrentSnapshot().Match(patterns.GroupLearnedSafe, "get-widget") == nil {
		t.Error("promotion not reinstalled on reload")
	}
}

func TestApproveFailurePersistenceLeavesStoreUntouched(t *testing.T) {
	store := patterns.NewStore()
	dir := t.TempDir()
	p, err := NewPipeline(PipelineOptions{DataDir: dir, Secret: "k"}, store)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	// Replace learned-safe.json with a directory so the save fails.
	path := filepath.Join(dir, "learned-safe.json")
	os.Remove(path)
	if err := os.MkdirAll(path, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := p.Approve([]string{"get-widget"}); err == nil {
		t.Fatal("Approve succeeded despite unwritable file")
	}
	if store.CurrentSnapshot().Match(patterns.GroupLearnedSafe, "get-widget") != nil {
		t.Error("failed approval still mutated the in-memory store")
	}
}

func TestRecommendScoring(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	aggs := []Aggregate{
		{
			Normalized:       "hot-command",
			Count:            10,
			DistinctSessions: 3,
			FirstSeen:        now.Add(-1 * time.Hour),
			LastSeen:         now,
		},
		{
			Normalized:       "stale-command",
			Count:            10,
			DistinctSessions: 3,
			FirstSeen:        now.Add(-200 * time.Hour),
			LastSeen:         now.Add(-100 * time.Hour),
		},
		{
			Normalized:       "rare-command",
			Count:            1,
			DistinctSessions: 1,
			FirstSeen:        now,
			LastSeen:         now,
		},
	}

	recs := Recommend(aggs, 10, 2, now)
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2 (minCount filter)", len(recs))
	}
	if recs[0].Normalized != "hot-command" {
		t.Errorf("top recommendation = %q, want hot-command", recs[0].Normalized)
	}
	for _, r := range recs {
		if r.Score < 0 || r.Score > 100 {
			t.Errorf("score %f outside [0,100]", r.Score)
		}
		// Rationale embeds the raw factors for audit reproducibility.
		if !contains(r.Rationale, "count=") || !contains(r.Rationale, "recency=") {
			t.Errorf("rationale missing factors: %q", r.Rationale)
		}
	}

	// Limit is honored.
	if got := Recommend(aggs, 1, 1, now); len(got) != 1 {
		t.Errorf("limit ignored: %d results", len(got))
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
