package learning

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/psgate/psgate/internal/patterns"
)

// Pipeline ties the candidates journal, approval queue, and approved list
// together behind the operations the learn tool exposes.
type Pipeline struct {
	journal  *Journal
	queue    *Queue
	approved *ApprovedList
}

// PipelineOptions configures file locations and the hash secret.
type PipelineOptions struct {
	// DataDir holds learnCandidates.jsonl, learn-queue.json, learned-safe.json.
	DataDir string
	// Secret keys the structural hash HMAC.
	Secret string
	// JournalMaxBytes overrides the rotation threshold (0 uses the default).
	JournalMaxBytes int64
	// Logger for component warnings.
	Logger *log.Logger
}

// NewPipeline builds the pipeline, loading persisted approvals into store.
func NewPipeline(opts PipelineOptions, store *patterns.Store) (*Pipeline, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	journal, err := NewJournal(JournalOptions{
		Path:     filepath.Join(opts.DataDir, "learnCandidates.jsonl"),
		MaxBytes: opts.JournalMaxBytes,
		Secret:   opts.Secret,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(filepath.Join(opts.DataDir, "learn-queue.json"))
	if err != nil {
		return nil, err
	}
	approved, err := NewApprovedList(filepath.Join(opts.DataDir, "learned-safe.json"), store, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{journal: journal, queue: queue, approved: approved}, nil
}

// RecordUnknown implements classify.Recorder.
func (p *Pipeline) RecordUnknown(command, sessionID string) {
	if err := p.journal.Record(command, sessionID); err != nil {
		log.Default().Warn("recording learning candidate failed", "error", err)
	}
}

// Aggregate rolls up the journal.
func (p *Pipeline) Aggregate() ([]Aggregate, error) {
	return p.journal.AggregateAll()
}

// Recommend scores aggregates for promotion.
func (p *Pipeline) Recommend(limit, minCount int) ([]Recommendation, error) {
	aggs, err := p.journal.AggregateAll()
	if err != nil {
		return nil, err
	}
	return Recommend(aggs, limit, minCount, time.Now().UTC()), nil
}

// Queue adds normalized forms to the approval queue.
func (p *Pipeline) Queue(normalized []string) error {
	return p.queue.Add(normalized, "operator")
}

// ListQueue returns pending queue entries.
func (p *Pipeline) ListQueue() ([]QueueEntry, error) {
	return p.queue.List()
}

// RemoveFromQueue drops entries without approving them.
func (p *Pipeline) RemoveFromQueue(normalized []string) (int, error) {
	return p.queue.Remove(normalized)
}

// Approve promotes normalized forms to learned-safe patterns and clears them
// from the queue. The store mutation happens only after persistence succeeds.
func (p *Pipeline) Approve(normalized []string) ([]ApprovedEntry, error) {
	added, err := p.approved.Approve(normalized, "human")
	if err != nil {
		return nil, err
	}
	if _, err := p.queue.Remove(normalized); err != nil {
		return added, fmt.Errorf("approved but dequeue failed: %w", err)
	}
	return added, nil
}

// ApprovedEntries lists persisted promotions.
func (p *Pipeline) ApprovedEntries() ([]ApprovedEntry, error) {
	return p.approved.Entries()
}

// ApprovedList exposes the underlying list for the reload watcher.
func (p *Pipeline) ApprovedList() *ApprovedList {
	return p.approved
}
