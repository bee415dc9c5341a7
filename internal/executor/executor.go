package executor

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// OverflowStrategy selects what happens when output exceeds the caps.
type OverflowStrategy string

const (
	// OverflowReturn responds immediately with partial output and terminates
	// the child in the background.
	OverflowReturn OverflowStrategy = "return"
	// OverflowTruncate stops storing further bytes and lets the child finish.
	OverflowTruncate OverflowStrategy = "truncate"
	// OverflowTerminate kills the child with the staged TERM/KILL sequence.
	OverflowTerminate OverflowStrategy = "terminate"
)

// Valid reports whether s names a known strategy.
func (s OverflowStrategy) Valid() bool {
	switch s {
	case OverflowReturn, OverflowTruncate, OverflowTerminate:
		return true
	default:
		return false
	}
}

// TerminationReason is the canonical single-valued end state.
type TerminationReason string

const (
	TerminationCompleted TerminationReason = "completed"
	TerminationTimeout   TerminationReason = "timeout"
	TerminationOverflow  TerminationReason = "overflow"
	TerminationKilled    TerminationReason = "killed"
)

// AdaptiveConfig enables deadline extension while the child is productive.
type AdaptiveConfig struct {
	ExtendWindowMs int64 `json:"extendWindowMs"`
	ExtendStepMs   int64 `json:"extendStepMs"`
	MaxTotalMs     int64 `json:"maxTotalMs"`
}

// Config is the executor's static configuration.
type Config struct {
	Shell                 ResolvedShell
	ChunkKB               int
	MaxOutputKB           int
	MaxLines              int
	OverflowStrategy      OverflowStrategy
	CaptureProcessMetrics bool
	DisableSelfDestruct   bool
	Logger                *log.Logger
}

// Options are the per-execution inputs.
type Options struct {
	Command string
	// TimeoutMs is the configured external timeout.
	TimeoutMs int64
	// WorkingDirectory must already be resolved by the path policy.
	WorkingDirectory string
	Adaptive         *AdaptiveConfig
	// OverflowStrategy overrides the configured default when set.
	OverflowStrategy OverflowStrategy
}

// Result is the immutable outcome of one execution. The finalization gate
// sets TerminationReason exactly once.
type Result struct {
	Success             bool              `json:"success"`
	ExitCode            *int              `json:"exitCode,omitempty"`
	Stdout              string            `json:"stdout"`
	Stderr              string            `json:"stderr"`
	DurationMs          int64             `json:"durationMs"`
	ConfiguredTimeoutMs int64             `json:"configuredTimeoutMs"`
	EffectiveTimeoutMs  int64             `json:"effectiveTimeoutMs"`
	AdaptiveExtensions  int               `json:"adaptiveExtensions"`
	AdaptiveMaxTotalMs  int64             `json:"adaptiveMaxTotalMs,omitempty"`
	TerminationReason    TerminationReason `json:"terminationReason"`
	TimedOut             bool              `json:"timedOut"`
	Overflow             bool              `json:"overflow"`
	Truncated            bool              `json:"truncated"`
	TotalBytes           int64             `json:"totalBytes"`
	InternalSelfDestruct bool              `json:"internalSelfDestruct"`
	WatchdogTriggered    bool              `json:"watchdogTriggered"`
	KillEscalated        bool              `json:"killEscalated"`
	KillTreeAttempted    bool              `json:"killTreeAttempted"`
	ShellAttempts        []string          `json:"shellAttempts,omitempty"`
	PsCPUSec             *float64          `json:"psCpuSec,omitempty"`
	PsWSMB               *float64          `json:"psWsMb,omitempty"`
}

// Executor spawns and supervises shell children.
type Executor struct {
	cfg    Config
	logger *log.Logger
}

// New creates an executor. Zero-valued caps fall back to defaults.
func New(cfg Config) *Executor {
	if cfg.ChunkKB <= 0 {
		cfg.ChunkKB = 16
	}
	if cfg.MaxOutputKB <= 0 {
		cfg.MaxOutputKB = 512
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = 10000
	}
	if !cfg.OverflowStrategy.Valid() {
		cfg.OverflowStrategy = OverflowTruncate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// killGrace derives the TERM-to-KILL grace window: roughly 10% of the
// timeout, clamped between 2s and 5s.
func killGrace(timeoutMs int64) time.Duration {
	grace := time.Duration(timeoutMs/10) * time.Millisecond
	if grace < 2*time.Second {
		grace = 2 * time.Second
	}
	if grace > 5*time.Second {
		grace = 5 * time.Second
	}
	return grace
}

// watchdogSlack is added past the timeout plus grace for the last-resort
// watchdog.
const watchdogSlack = 2 * time.Second

// Run executes the command under full supervision. The returned error is
// non-nil only for spawn-level failures; policy and timeout outcomes are
// encoded in the Result.
func (e *Executor) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if opts.TimeoutMs <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	strategy := opts.OverflowStrategy
	if !strategy.Valid() {
		strategy = e.cfg.OverflowStrategy
	}

	res := &Result{
		ConfiguredTimeoutMs: opts.TimeoutMs,
		EffectiveTimeoutMs:  opts.TimeoutMs,
		ShellAttempts:       e.cfg.Shell.Attempts,
	}
	if opts.Adaptive != nil {
		res.AdaptiveMaxTotalMs = opts.Adaptive.MaxTotalMs
	}

	wrapped := wrapCommand(opts.Command, opts.TimeoutMs, !e.cfg.DisableSelfDestruct, e.cfg.CaptureProcessMetrics)

	cmd := exec.Command(e.cfg.Shell.Path, "-NoProfile", "-NonInteractive", "-Command", wrapped)
	cmd.Dir = opts.WorkingDirectory

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	budget := newOutputBudget(int64(e.cfg.MaxOutputKB) * 1024)
	dropTail := strategy == OverflowTruncate
	stdoutBuf := newCappedBuffer(budget, e.cfg.MaxLines, dropTail, &lastActivity)
	stderrBuf := newCappedBuffer(budget, 0, dropTail, &lastActivity)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %s: %w", e.cfg.Shell.Path, err)
	}

	var pumps errgroup.Group
	pumps.Go(func() error { return pump(stdoutBuf, stdoutPipe, e.cfg.ChunkKB*1024) })
	pumps.Go(func() error { return pump(stderrBuf, stderrPipe, e.cfg.ChunkKB*1024) })

	waitCh := make(chan *int, 1)
	exited := make(chan struct{})
	go func() {
		_ = pumps.Wait()
		werr := cmd.Wait()
		code := exitCodeOf(werr)
		close(exited)
		waitCh <- code
	}()

	grace := killGrace(opts.TimeoutMs)
	deadline := start.Add(time.Duration(opts.TimeoutMs) * time.Millisecond)
	external := time.NewTimer(time.Until(deadline))
	defer external.Stop()
	watchdog := time.NewTimer(time.Until(deadline.Add(grace + watchdogSlack)))
	defer watchdog.Stop()

	var adaptTick *time.Ticker
	var adaptC <-chan time.Time
	if opts.Adaptive != nil && opts.Adaptive.ExtendWindowMs > 0 && opts.Adaptive.ExtendStepMs > 0 {
		interval := time.Duration(opts.Adaptive.ExtendWindowMs/2) * time.Millisecond
		if interval > time.Second {
			interval = time.Second
		}
		if interval < 50*time.Millisecond {
			interval = 50 * time.Millisecond
		}
		adaptTick = time.NewTicker(interval)
		defer adaptTick.Stop()
		adaptC = adaptTick.C
	}

	var killEscalated atomic.Bool
	var killTree atomic.Bool
	terminating := false

	terminate := func() {
		go func() {
			e.signalTerm(cmd, &killTree)
			select {
			case <-exited:
			case <-time.After(grace):
				killEscalated.Store(true)
				e.signalKill(cmd, &killTree)
			}
		}()
	}

	finalize := func(exitCode *int) *Result {
		elapsed := time.Since(start).Milliseconds()
		if elapsed < 1 {
			elapsed = 1
		}
		res.DurationMs = elapsed
		res.ExitCode = exitCode
		res.Overflow = budget.overflowed.Load()
		res.Truncated = stdoutBuf.Truncated() || stderrBuf.Truncated() || res.Overflow
		res.TotalBytes = budget.totalBytes.Load()
		res.KillEscalated = killEscalated.Load()
		res.KillTreeAttempted = killTree.Load()

		if exitCode != nil && *exitCode == selfDestructExitCode {
			if !res.TimedOut {
				res.InternalSelfDestruct = true
			}
			res.TimedOut = true
		}

		switch {
		case res.TimedOut:
			res.TerminationReason = TerminationTimeout
		case res.Overflow:
			res.TerminationReason = TerminationOverflow
		case exitCode == nil || *exitCode != 0:
			res.TerminationReason = TerminationKilled
		default:
			res.TerminationReason = TerminationCompleted
		}

		stdout := stdoutBuf.String()
		stdout, res.PsCPUSec, res.PsWSMB = stripSentinel(stdout)
		if res.Truncated {
			stdout += TruncationMarker
		}
		res.Stdout = stdout
		res.Stderr = stderrBuf.String()
		res.Success = res.TerminationReason == TerminationCompleted
		return res
	}

	ctxDone := ctx.Done()
	overflowC := budget.signal
	for {
		select {
		case code := <-waitCh:
			return finalize(code), nil

		case <-overflowC:
			overflowC = nil // the signal channel is closed; arm only once
			switch strategy {
			case OverflowReturn:
				terminate()
				return finalize(nil), nil
			case OverflowTerminate:
				if !terminating {
					terminating = true
					terminate()
				}
			case OverflowTruncate:
				// Buffers stop storing; the child runs to completion.
			}

		case <-external.C:
			if remaining := time.Until(deadline); remaining > 0 {
				external.Reset(remaining)
				continue
			}
			res.TimedOut = true
			if !terminating {
				terminating = true
				terminate()
			}

		case <-adaptC:
			now := time.Now()
			window := time.Duration(opts.Adaptive.ExtendWindowMs) * time.Millisecond
			idle := now.Sub(time.Unix(0, lastActivity.Load()))
			elapsed := now.Sub(start).Milliseconds()
			if time.Until(deadline) <= window &&
				idle <= window &&
				elapsed+opts.Adaptive.ExtendStepMs <= opts.Adaptive.MaxTotalMs {
				deadline = deadline.Add(time.Duration(opts.Adaptive.ExtendStepMs) * time.Millisecond)
				res.EffectiveTimeoutMs += opts.Adaptive.ExtendStepMs
				res.AdaptiveExtensions++
				external.Reset(time.Until(deadline))
				watchdog.Reset(time.Until(deadline.Add(grace + watchdogSlack)))
			}

		case <-watchdog.C:
			res.WatchdogTriggered = true
			e.signalKill(cmd, &killTree)
			return finalize(nil), nil

		case <-ctxDone:
			// Transport shutdown: supervise to the end anyway so the result
			// is still recorded.
			ctxDone = nil
			if !terminating {
				terminating = true
				terminate()
			}
		}
	}
}

func exitCodeOf(err error) *int {
	if err == nil {
		zero := 0
		return &zero
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		if code >= 0 {
			return &code
		}
	}
	return nil
}

func (e *Executor) signalTerm(cmd *exec.Cmd, killTree *atomic.Bool) {
	if cmd.Process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		e.killProcessTree(cmd.Process.Pid, killTree)
		return
	}
	if err := terminateProcess(cmd.Process); err != nil {
		e.logger.Debug("sigterm failed", "pid", cmd.Process.Pid, "error", err)
	}
}

func (e *Executor) signalKill(cmd *exec.Cmd, killTree *atomic.Bool) {
	if cmd.Process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		e.killProcessTree(cmd.Process.Pid, killTree)
	}
	if err := cmd.Process.Kill(); err != nil {
		e.logger.Debug("sigkill failed", "pid", cmd.Process.Pid, "error", err)
	}
}

// killProcessTree kills the child and its descendants on Windows.
func (e *Executor) killProcessTree(pid int, killTree *atomic.Bool) {
	killTree.Store(true)
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	if err := kill.Run(); err != nil {
		e.logger.Debug("taskkill failed", "pid", pid, "error", err)
	}
}
