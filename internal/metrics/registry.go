// Package metrics maintains the in-memory execution metrics registry and a
// prometheus bridge for the HTTP surface.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/psgate/psgate/internal/classify"
)

// Record is the per-execution slice of data the registry retains.
type Record struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      classify.Level `json:"level"`
	Blocked    bool           `json:"blocked"`
	Truncated  bool           `json:"truncated"`
	TimedOut   bool           `json:"timedOut"`
	DurationMs int64          `json:"durationMs"`
	ExitCode   *int           `json:"exitCode,omitempty"`
	Preview    string         `json:"preview"`
	Confirmed  bool           `json:"confirmed"`
	PsCPUSec   *float64       `json:"psCpuSec,omitempty"`
	PsWSMB     *float64       `json:"psWsMb,omitempty"`
}

// Snapshot is the aggregate view returned by the serverStats tool.
type Snapshot struct {
	Total                 int64                    `json:"total"`
	ByLevel               map[classify.Level]int64 `json:"byLevel"`
	Blocked               int64                    `json:"blocked"`
	Truncated             int64                    `json:"truncated"`
	Timeouts              int64                    `json:"timeouts"`
	ConfirmationRequired  int64                    `json:"confirmationRequired"`
	AverageDurationMs     float64                  `json:"averageDurationMs"`
	P95DurationMs         float64                  `json:"p95DurationMs"`
	DurationSamples       int                      `json:"durationSamples"`
	AveragePsCPUSec       float64                  `json:"averagePsCpuSec"`
	P95PsCPUSec           float64                  `json:"p95PsCpuSec"`
	AveragePsWSMB         float64                  `json:"averagePsWsMb"`
	P95PsWSMB             float64                  `json:"p95PsWsMb"`
	ProcessMetricsSamples int                      `json:"processMetricsSamples"`
	LastReset             time.Time                `json:"lastReset"`
}

// DefaultRecentCapacity bounds the execution-record ring.
const DefaultRecentCapacity = 1000

// Registry is the process-wide metrics store. All methods are safe for
// concurrent use.
type Registry struct {
	mu sync.Mutex

	total                int64
	byLevel              map[classify.Level]int64
	blocked              int64
	truncated            int64
	timeouts             int64
	confirmationRequired int64

	durations []float64
	psCPU     []float64
	psWS      []float64

	recent    []Record
	recentCap int
	lastReset time.Time

	bridge *Bridge
}

// NewRegistry creates a registry with the given ring capacity (0 = default).
func NewRegistry(recentCap int) *Registry {
	if recentCap <= 0 {
		recentCap = DefaultRecentCapacity
	}
	return &Registry{
		byLevel:   make(map[classify.Level]int64),
		recentCap: recentCap,
		lastReset: time.Now().UTC(),
	}
}

// WithBridge attaches a prometheus bridge; every record is mirrored to it.
func (r *Registry) WithBridge(b *Bridge) *Registry {
	r.mu.Lock()
	r.bridge = b
	r.mu.Unlock()
	return r
}

// RecordExecution folds one finalized record into the registry. Zero
// durations (attempt events) never feed the duration vector.
func (r *Registry) RecordExecution(rec Record) {
	r.mu.Lock()
	r.total++
	r.byLevel[rec.Level]++
	if rec.Blocked {
		r.blocked++
	}
	if rec.Truncated {
		r.truncated++
	}
	if rec.TimedOut {
		r.timeouts++
	}
	if rec.DurationMs > 0 {
		r.durations = append(r.durations, float64(rec.DurationMs))
	}
	if rec.PsCPUSec != nil {
		r.psCPU = append(r.psCPU, *rec.PsCPUSec)
	}
	if rec.PsWSMB != nil {
		r.psWS = append(r.psWS, *rec.PsWSMB)
	}
	r.recent = append(r.recent, rec)
	if len(r.recent) > r.recentCap {
		r.recent = r.recent[len(r.recent)-r.recentCap:]
	}
	bridge := r.bridge
	r.mu.Unlock()

	if bridge != nil {
		bridge.observe(rec)
	}
}

// IncrementTimeout bumps the timeout counter outside of a full record.
func (r *Registry) IncrementTimeout() {
	r.mu.Lock()
	r.timeouts++
	r.mu.Unlock()
}

// IncrementConfirmationRequired counts an unconfirmed risky/unknown attempt.
func (r *Registry) IncrementConfirmationRequired() {
	r.mu.Lock()
	r.confirmationRequired++
	bridge := r.bridge
	r.mu.Unlock()
	if bridge != nil {
		bridge.confirmationRequired.Inc()
	}
}

// Snapshot returns the aggregate view, optionally resetting afterwards.
func (r *Registry) Snapshot(reset bool) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Total:                 r.total,
		ByLevel:               make(map[classify.Level]int64, len(r.byLevel)),
		Blocked:               r.blocked,
		Truncated:             r.truncated,
		Timeouts:              r.timeouts,
		ConfirmationRequired:  r.confirmationRequired,
		AverageDurationMs:     mean(r.durations),
		P95DurationMs:         p95(r.durations),
		DurationSamples:       len(r.durations),
		AveragePsCPUSec:       mean(r.psCPU),
		P95PsCPUSec:           p95(r.psCPU),
		AveragePsWSMB:         mean(r.psWS),
		P95PsWSMB:             p95(r.psWS),
		ProcessMetricsSamples: len(r.psCPU),
		LastReset:             r.lastReset,
	}
	for level, n := range r.byLevel {
		snap.ByLevel[level] = n
	}
	if reset {
		r.resetLocked()
	}
	return snap
}

// Reset zeroes every counter and sample vector.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
}

func (r *Registry) resetLocked() {
	r.total = 0
	r.byLevel = make(map[classify.Level]int64)
	r.blocked = 0
	r.truncated = 0
	r.timeouts = 0
	r.confirmationRequired = 0
	r.durations = nil
	r.psCPU = nil
	r.psWS = nil
	r.recent = nil
	r.lastReset = time.Now().UTC()
}

// Recent returns up to n most-recent records, newest last.
func (r *Registry) Recent(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.recent) {
		n = len(r.recent)
	}
	out := make([]Record, n)
	copy(out, r.recent[len(r.recent)-n:])
	return out
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// p95 uses the sorted index min(len-1, floor(0.95*len)-1), clamped at 0; at
// low sample counts this selects a lower sample (index 0 for two samples).
func p95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(math.Floor(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
