package executor

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSample is one CPU / working-set observation of a process.
type ProcessSample struct {
	PID          int32     `json:"pid"`
	CPUSeconds   float64   `json:"cpuSeconds"`
	WorkingSetMB float64   `json:"workingSetMb"`
	CapturedAt   time.Time `json:"capturedAt"`
}

// SampleSelf captures the gateway's own process metrics. Used by the
// captureSample test hook.
func SampleSelf() (*ProcessSample, error) {
	return SampleProcess(int32(os.Getpid()))
}

// SampleProcess captures CPU time and resident memory for one pid.
func SampleProcess(pid int32) (*ProcessSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("opening process %d: %w", pid, err)
	}
	times, err := proc.Times()
	if err != nil {
		return nil, fmt.Errorf("reading cpu times: %w", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("reading memory info: %w", err)
	}
	return &ProcessSample{
		PID:          pid,
		CPUSeconds:   times.User + times.System,
		WorkingSetMB: float64(mem.RSS) / (1 << 20),
		CapturedAt:   time.Now().UTC(),
	}, nil
}
