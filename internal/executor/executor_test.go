package executor

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestKillGrace(t *testing.T) {
	tests := []struct {
		timeoutMs int64
		want      time.Duration
	}{
		{1000, 2 * time.Second},   // 10% below the floor
		{30000, 3 * time.Second},  // 10% in range
		{600000, 5 * time.Second}, // 10% above the ceiling
	}
	for _, tt := range tests {
		if got := killGrace(tt.timeoutMs); got != tt.want {
			t.Errorf("killGrace(%d) = %s, want %s", tt.timeoutMs, got, tt.want)
		}
	}
}

func TestWrapCommand(t *testing.T) {
	wrapped := wrapCommand("Get-Date", 5000, true, true)

	for _, want := range []string{
		"$ProgressPreference = 'SilentlyContinue'",
		"Set-StrictMode -Version Latest",
		"Get-Date",
		MetricsSentinelPrefix,
		"[Environment]::Exit(124)",
	} {
		if !strings.Contains(wrapped, want) {
			t.Errorf("wrapped script missing %q", want)
		}
	}

	// Self-destruct fires before the external timeout.
	if !strings.Contains(wrapped, "Timer(4700)") {
		t.Errorf("self-destruct lead wrong:\n%s", wrapped)
	}
}

func TestWrapCommandFlagsOff(t *testing.T) {
	wrapped := wrapCommand("Get-Date", 5000, false, false)
	if strings.Contains(wrapped, "Exit(124)") {
		t.Error("self-destruct present despite being disabled")
	}
	if strings.Contains(wrapped, MetricsSentinelPrefix) {
		t.Error("sentinel present despite metrics capture disabled")
	}
}

func TestWrapCommandTinyTimeoutSkipsSelfDestruct(t *testing.T) {
	wrapped := wrapCommand("Get-Date", 200, true, false)
	if strings.Contains(wrapped, "Exit(124)") {
		t.Error("self-destruct armed with a timeout below the lead")
	}
}

func TestStripSentinel(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantOut    string
		wantCPU    *float64
		wantWSMB   *float64
	}{
		{
			name:     "sentinel last line",
			stdout:   "hello\n" + MetricsSentinelPrefix + "1.5,120.25\n",
			wantOut:  "hello",
			wantCPU:  fp(1.5),
			wantWSMB: fp(120.25),
		},
		{
			name:    "no sentinel",
			stdout:  "hello\nworld\n",
			wantOut: "hello\nworld\n",
		},
		{
			name:    "malformed payload discarded",
			stdout:  "hello\n" + MetricsSentinelPrefix + "oops\n",
			wantOut: "hello",
		},
		{
			name:    "missing field discarded",
			stdout:  "x\n" + MetricsSentinelPrefix + "1.5\n",
			wantOut: "x",
		},
		{
			name:     "integer values",
			stdout:   MetricsSentinelPrefix + "2,64\n",
			wantOut:  "",
			wantCPU:  fp(2),
			wantWSMB: fp(64),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, cpu, ws := stripSentinel(tt.stdout)
			if out != tt.wantOut {
				t.Errorf("cleaned = %q, want %q", out, tt.wantOut)
			}
			if !floatPtrEq(cpu, tt.wantCPU) {
				t.Errorf("cpu = %v, want %v", cpu, tt.wantCPU)
			}
			if !floatPtrEq(ws, tt.wantWSMB) {
				t.Errorf("ws = %v, want %v", ws, tt.wantWSMB)
			}
			if strings.Contains(out, MetricsSentinelPrefix) {
				t.Error("sentinel leaked into cleaned output")
			}
		})
	}
}

func TestCappedBufferByteBudget(t *testing.T) {
	budget := newOutputBudget(10)
	buf := newCappedBuffer(budget, 0, false, nil)

	if _, err := buf.Write([]byte("12345")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-budget.signal:
		t.Fatal("overflow signal fired under budget")
	default:
	}

	if _, err := buf.Write([]byte("6789012345")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-budget.signal:
	default:
		t.Fatal("overflow signal did not fire")
	}
	if !buf.Truncated() {
		t.Error("buffer not marked truncated")
	}
	if budget.totalBytes.Load() != 15 {
		t.Errorf("totalBytes = %d, want 15", budget.totalBytes.Load())
	}
}

func TestCappedBufferDropAfterOverflow(t *testing.T) {
	budget := newOutputBudget(4)
	buf := newCappedBuffer(budget, 0, true, nil)

	buf.Write([]byte("1234"))
	buf.Write([]byte("5678")) // over budget: dropped, still counted
	if got := buf.String(); got != "1234" {
		t.Errorf("stored = %q, want %q", got, "1234")
	}
	if budget.totalBytes.Load() != 8 {
		t.Errorf("totalBytes = %d, want 8", budget.totalBytes.Load())
	}
}

func TestCappedBufferLineCap(t *testing.T) {
	budget := newOutputBudget(1 << 20)
	buf := newCappedBuffer(budget, 2, false, nil)

	buf.Write([]byte("one\ntwo\nthree\nfour\n"))
	if !buf.Truncated() {
		t.Error("line cap not marked truncated")
	}
	got := buf.String()
	if strings.Count(got, "\n") > 2 {
		t.Errorf("stored %d lines: %q", strings.Count(got, "\n"), got)
	}
}

func TestCappedBufferUpdatesActivity(t *testing.T) {
	var activity atomic.Int64
	budget := newOutputBudget(1 << 20)
	buf := newCappedBuffer(budget, 0, false, &activity)

	before := activity.Load()
	time.Sleep(5 * time.Millisecond)
	buf.Write([]byte("data"))
	if activity.Load() <= before {
		t.Error("activity timestamp not updated")
	}
}

func TestResolveShellConfiguredOverride(t *testing.T) {
	fake := filepath.Join(t.TempDir(), "pwsh")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := ResolveShell(fake, "")
	if r.Path != fake {
		t.Errorf("path = %q, want %q", r.Path, fake)
	}
	if len(r.Attempts) == 0 || !strings.HasPrefix(r.Attempts[0], "config:") {
		t.Errorf("attempts = %v", r.Attempts)
	}
}

func TestResolveShellEnvOverride(t *testing.T) {
	fake := filepath.Join(t.TempDir(), "pwsh-env")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := ResolveShell("", fake)
	if r.Path != fake {
		t.Errorf("path = %q, want %q", r.Path, fake)
	}
}

func TestResolveShellAlwaysReturnsSomething(t *testing.T) {
	r := ResolveShell("", "")
	if r.Path == "" {
		t.Error("no shell resolved at all")
	}
	if len(r.Attempts) == 0 {
		t.Error("attempts not recorded")
	}
}

func fp(f float64) *float64 { return &f }

func floatPtrEq(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
