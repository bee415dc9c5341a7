package learning

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// CandidateLine is one NDJSON row in the candidates journal. Raw command
// text never appears here; only the redacted normalized form does.
type CandidateLine struct {
	StructuralHash string    `json:"structuralHash"`
	Normalized     string    `json:"normalized"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
	SessionID      string    `json:"sessionId"`
}

// Aggregate is the read-side rollup of all sightings for one normalized form.
type Aggregate struct {
	Normalized       string    `json:"normalized"`
	StructuralHash   string    `json:"structuralHash"`
	Count            int       `json:"count"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
	DistinctSessions int       `json:"distinctSessions"`
	SampleRedacted   string    `json:"sampleRedacted"`
}

// JournalOptions configures the candidates journal.
type JournalOptions struct {
	// Path is the NDJSON file, rotated when it exceeds MaxBytes.
	Path string
	// MaxBytes triggers size rotation (default 4 MiB).
	MaxBytes int64
	// Secret keys the structural hash HMAC.
	Secret string
	// Logger for rotation and write failures.
	Logger *log.Logger
}

// DefaultJournalMaxBytes is the rotation threshold when none is configured.
const DefaultJournalMaxBytes = 4 << 20

// Journal is the size-rotated candidates journal.
type Journal struct {
	mu     sync.Mutex
	opts   JournalOptions
	logger *log.Logger
}

// NewJournal creates the journal, ensuring the parent directory exists.
func NewJournal(opts JournalOptions) (*Journal, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultJournalMaxBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	return &Journal{opts: opts, logger: logger}, nil
}

// Record redacts, normalizes, hashes, and appends one sighting. It is safe
// for concurrent use and never stores raw command text.
func (j *Journal) Record(command, sessionID string) error {
	normalized := Normalize(command)
	if normalized == "" {
		return nil
	}
	now := time.Now().UTC()
	line := CandidateLine{
		StructuralHash: StructuralHash(normalized, j.opts.Secret),
		Normalized:     normalized,
		FirstSeen:      now,
		LastSeen:       now,
		SessionID:      sessionID,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.rotateIfNeeded(); err != nil {
		j.logger.Warn("candidate journal rotation failed", "error", err)
	}

	f, err := os.OpenFile(j.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening candidates journal: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encoding candidate: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("appending candidate: %w", err)
	}
	return nil
}

// rotateIfNeeded renames the journal aside once it exceeds the threshold.
// One rotated generation is kept; older data ages out.
func (j *Journal) rotateIfNeeded() error {
	info, err := os.Stat(j.opts.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < j.opts.MaxBytes {
		return nil
	}
	rotated := j.opts.Path + ".1"
	if err := os.Remove(rotated); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(j.opts.Path, rotated)
}

// AggregateAll scans the journal (current plus one rotated generation) and
// rolls sightings up by structural hash.
func (j *Journal) AggregateAll() ([]Aggregate, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	type acc struct {
		agg      Aggregate
		sessions map[string]bool
	}
	byHash := make(map[string]*acc)

	for _, path := range []string{j.opts.Path + ".1", j.opts.Path} {
		if err := scanLines(path, func(line CandidateLine) {
			a, ok := byHash[line.StructuralHash]
			if !ok {
				a = &acc{
					agg: Aggregate{
						Normalized:     line.Normalized,
						StructuralHash: line.StructuralHash,
						FirstSeen:      line.FirstSeen,
						LastSeen:       line.LastSeen,
						SampleRedacted: line.Normalized,
					},
					sessions: make(map[string]bool),
				}
				byHash[line.StructuralHash] = a
			}
			a.agg.Count++
			if line.FirstSeen.Before(a.agg.FirstSeen) {
				a.agg.FirstSeen = line.FirstSeen
			}
			if line.LastSeen.After(a.agg.LastSeen) {
				a.agg.LastSeen = line.LastSeen
			}
			if line.SessionID != "" {
				a.sessions[line.SessionID] = true
			}
		}); err != nil {
			return nil, err
		}
	}

	out := make([]Aggregate, 0, len(byHash))
	for _, a := range byHash {
		a.agg.DistinctSessions = len(a.sessions)
		if a.agg.DistinctSessions == 0 {
			a.agg.DistinctSessions = 1
		}
		out = append(out, a.agg)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Count > out[k].Count })
	return out, nil
}

func scanLines(path string, fn func(CandidateLine)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line CandidateLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // tolerate torn writes at rotation boundaries
		}
		fn(line)
	}
	return scanner.Err()
}
