package metrics

import (
	"testing"

	"github.com/psgate/psgate/internal/classify"
)

func TestRecordAndSnapshot(t *testing.T) {
	r := NewRegistry(0)

	r.RecordExecution(Record{Level: classify.LevelSafe, DurationMs: 100})
	r.RecordExecution(Record{Level: classify.LevelSafe, DurationMs: 200})
	r.RecordExecution(Record{Level: classify.LevelRisky, DurationMs: 300, TimedOut: true})
	r.RecordExecution(Record{Level: classify.LevelBlocked, Blocked: true})

	snap := r.Snapshot(false)
	if snap.Total != 4 {
		t.Errorf("total = %d, want 4", snap.Total)
	}
	if snap.ByLevel[classify.LevelSafe] != 2 {
		t.Errorf("safe count = %d, want 2", snap.ByLevel[classify.LevelSafe])
	}
	if snap.Blocked != 1 {
		t.Errorf("blocked = %d, want 1", snap.Blocked)
	}
	if snap.Timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", snap.Timeouts)
	}
	if snap.DurationSamples != 3 {
		t.Errorf("duration samples = %d, want 3 (zero-duration excluded)", snap.DurationSamples)
	}
	if snap.AverageDurationMs != 200 {
		t.Errorf("mean = %f, want 200", snap.AverageDurationMs)
	}
}

func TestZeroDurationDoesNotPollutePercentiles(t *testing.T) {
	r := NewRegistry(0)
	r.RecordExecution(Record{Level: classify.LevelSafe, DurationMs: 100})
	before := r.Snapshot(false)

	// Blocked and confirmation-required attempts carry zero duration.
	r.RecordExecution(Record{Level: classify.LevelBlocked, Blocked: true})
	r.IncrementConfirmationRequired()

	after := r.Snapshot(false)
	if after.AverageDurationMs != before.AverageDurationMs {
		t.Errorf("mean changed: %f -> %f", before.AverageDurationMs, after.AverageDurationMs)
	}
	if after.P95DurationMs != before.P95DurationMs {
		t.Errorf("p95 changed: %f -> %f", before.P95DurationMs, after.P95DurationMs)
	}
	if after.ConfirmationRequired != 1 {
		t.Errorf("confirmationRequired = %d, want 1", after.ConfirmationRequired)
	}
}

func TestP95Index(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 42},
		{"two", []float64{10, 20}, 10},
		{"twenty", seq(1, 20), 19},
		{"hundred", seq(1, 100), 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p95(tt.samples); got != tt.want {
				t.Errorf("p95 = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSnapshotReset(t *testing.T) {
	r := NewRegistry(0)
	r.RecordExecution(Record{Level: classify.LevelSafe, DurationMs: 100})

	first := r.Snapshot(true)
	if first.Total != 1 {
		t.Fatalf("pre-reset total = %d", first.Total)
	}

	second := r.Snapshot(false)
	if second.Total != 0 || second.DurationSamples != 0 || len(second.ByLevel) != 0 {
		t.Errorf("post-reset snapshot not zeroed: %+v", second)
	}
	if !second.LastReset.After(first.LastReset) && !second.LastReset.Equal(first.LastReset) {
		t.Error("lastReset not advanced")
	}
}

func TestRecentRing(t *testing.T) {
	r := NewRegistry(3)
	for i := 0; i < 5; i++ {
		r.RecordExecution(Record{Level: classify.LevelSafe, DurationMs: int64(i + 1)})
	}
	recent := r.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("ring kept %d records, want 3", len(recent))
	}
	if recent[0].DurationMs != 3 || recent[2].DurationMs != 5 {
		t.Errorf("ring kept wrong records: %+v", recent)
	}
	if got := r.Recent(2); len(got) != 2 || got[1].DurationMs != 5 {
		t.Errorf("Recent(2) = %+v", got)
	}
}

func TestProcessMetricsSamples(t *testing.T) {
	r := NewRegistry(0)
	cpu := 1.5
	ws := 120.0
	r.RecordExecution(Record{Level: classify.LevelSafe, DurationMs: 10, PsCPUSec: &cpu, PsWSMB: &ws})
	r.RecordExecution(Record{Level: classify.LevelSafe, DurationMs: 10})

	snap := r.Snapshot(false)
	if snap.ProcessMetricsSamples != 1 {
		t.Errorf("process samples = %d, want 1", snap.ProcessMetricsSamples)
	}
	if snap.AveragePsCPUSec != 1.5 {
		t.Errorf("mean cpu = %f, want 1.5", snap.AveragePsCPUSec)
	}
	if snap.AveragePsWSMB != 120 {
		t.Errorf("mean ws = %f, want 120", snap.AveragePsWSMB)
	}
}

func seq(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, float64(i))
	}
	return out
}
