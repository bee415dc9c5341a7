package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/psgate/psgate/internal/audit"
	"github.com/psgate/psgate/internal/classify"
	"github.com/psgate/psgate/internal/events"
	"github.com/psgate/psgate/internal/executor"
	"github.com/psgate/psgate/internal/history"
	"github.com/psgate/psgate/internal/metrics"
	"github.com/psgate/psgate/internal/pathpolicy"
)

// longTimeoutWarnSecs triggers the long-timeout warning.
const longTimeoutWarnSecs = 60

// AdaptiveArgs is the wire form of the adaptive timeout configuration.
type AdaptiveArgs struct {
	ExtendWindowMs int64 `json:"extendWindowMs"`
	ExtendStepMs   int64 `json:"extendStepMs"`
	MaxTotalSec    int64 `json:"maxTotalSec"`
}

// ExecuteArgs are the executeCommand tool arguments. Legacy timeout field
// names are accepted as aliases with a warning.
type ExecuteArgs struct {
	Command          string        `json:"command"`
	Confirmed        bool          `json:"confirmed"`
	WorkingDirectory string        `json:"workingDirectory,omitempty"`
	TimeoutSeconds   *int          `json:"timeoutSeconds,omitempty"`
	TimeoutSecs      *int          `json:"timeoutSecs,omitempty"`
	Timeout          *int          `json:"timeout,omitempty"`
	Adaptive         *AdaptiveArgs `json:"adaptive,omitempty"`
	OverflowStrategy string        `json:"overflowStrategy,omitempty"`

	// AuthKey and CallerID are attached by the transport.
	AuthKey  string `json:"authKey,omitempty"`
	CallerID string `json:"callerId,omitempty"`
	// SessionID threads caller identity into learning aggregation.
	SessionID string `json:"sessionId,omitempty"`
}

// ExecuteResponse is the executeCommand result. Blocked outcomes carry no
// execution result but are not errors.
type ExecuteResponse struct {
	Blocked            bool                `json:"blocked"`
	Result             *executor.Result    `json:"result,omitempty"`
	SecurityAssessment classify.Assessment `json:"securityAssessment"`
	Warnings           []string            `json:"warnings,omitempty"`
	Summary            string              `json:"summary"`
}

// ExecuteCommand runs the full gate sequence for one tool invocation.
func (g *Gateway) ExecuteCommand(ctx context.Context, args ExecuteArgs) (*ExecuteResponse, error) {
	// 1. Authenticate.
	if err := g.auth.Verify(args.AuthKey); err != nil {
		g.journal.Write("warn", audit.CategoryAuthFailed, "authentication failed", map[string]any{
			"caller": args.CallerID,
		})
		return nil, errUnauthorized("missing or invalid auth key")
	}

	// 2. Rate-limit on the caller identity.
	caller := args.CallerID
	if caller == "" {
		caller = "default"
	}
	if decision := g.limiter.Consume(caller); !decision.Allowed {
		g.publishAttempt(classify.Assessment{Level: classify.LevelBlocked, Blocked: true}, args, "rate-limited")
		g.journal.Write("warn", audit.CategoryRateLimitExceeded, "rate limit exceeded", map[string]any{
			"caller":       caller,
			"msUntilReset": decision.MsUntilReset,
		})
		return nil, errRateLimited(fmt.Sprintf("rate limit exceeded; retry in %dms", decision.MsUntilReset))
	}

	// 3. Length gate.
	if args.Command == "" {
		return nil, errInvalid("command is required")
	}
	if max := g.cfg.Executor.MaxCommandChars; len(args.Command) > max {
		return nil, errInvalid("command exceeds %d characters", max)
	}

	// 4. Classify.
	assessment := g.classifier.Classify(args.Command, args.SessionID)

	// 5. Blocked: inline result, no child spawned.
	if assessment.Blocked {
		g.publishAttempt(assessment, args, "blocked")
		g.journal.Write("warn", audit.CategoryCommandBlocked, "command blocked", map[string]any{
			"level":   string(assessment.Level),
			"reason":  assessment.Reason,
			"matched": strings.Join(assessment.MatchedPatterns, ","),
			"preview": events.Preview(args.Command),
		})
		g.metrics.RecordExecution(metrics.Record{
			Level:   assessment.Level,
			Blocked: true,
			Preview: events.Preview(args.Command),
		})
		g.recordHistory(history.Execution{
			Level:           string(assessment.Level),
			Blocked:         true,
			Preview:         events.Preview(args.Command),
			MatchedPatterns: assessment.MatchedPatterns,
			Reason:          assessment.Reason,
			SessionID:       args.SessionID,
		})
		return &ExecuteResponse{
			Blocked:            true,
			SecurityAssessment: assessment,
			Summary:            fmt.Sprintf("BLOCKED (%s): %s", assessment.Level, assessment.Reason),
		}, nil
	}

	// 6. Confirmation gate.
	if assessment.RequiresConfirmation && !args.Confirmed {
		g.publishAttempt(assessment, args, "confirmation-required")
		g.metrics.IncrementConfirmationRequired()
		g.journal.Write("info", audit.CategoryConfirmRequired, "confirmation required", map[string]any{
			"level":   string(assessment.Level),
			"preview": events.Preview(args.Command),
		})
		return nil, errInvalid(
			"command classified %s requires confirmation; resubmit with confirmed:true",
			assessment.Level)
	}

	// 7. Timeout normalization.
	var warnings []string
	timeoutSecs := g.cfg.Timeouts.DefaultSecs
	switch {
	case args.TimeoutSeconds != nil:
		timeoutSecs = *args.TimeoutSeconds
	case args.TimeoutSecs != nil:
		timeoutSecs = *args.TimeoutSecs
		warnings = append(warnings, "timeoutSecs is deprecated; use timeoutSeconds")
	case args.Timeout != nil:
		timeoutSecs = *args.Timeout
		warnings = append(warnings, "timeout is deprecated; use timeoutSeconds")
	}
	if timeoutSecs <= 0 {
		return nil, errInvalid("timeoutSeconds must be positive")
	}
	if timeoutSecs > g.cfg.Timeouts.MaxSecs {
		return nil, errInvalid("timeoutSeconds %d exceeds maximum %d", timeoutSecs, g.cfg.Timeouts.MaxSecs)
	}
	if timeoutSecs >= longTimeoutWarnSecs {
		warnings = append(warnings, fmt.Sprintf("long timeout of %ds requested", timeoutSecs))
	}

	// Path policy (preamble of §4.5): resolve before any child exists.
	workdir := ""
	if args.WorkingDirectory != "" {
		resolved, err := g.policy.Resolve(args.WorkingDirectory)
		if err != nil {
			if errors.Is(err, pathpolicy.ErrOutsidePolicy) {
				return nil, errInvalid("%v", err)
			}
			return nil, errInvalid("invalid workingDirectory: %v", err)
		}
		workdir = resolved
	}

	var adaptive *executor.AdaptiveConfig
	if args.Adaptive != nil {
		adaptive = &executor.AdaptiveConfig{
			ExtendWindowMs: args.Adaptive.ExtendWindowMs,
			ExtendStepMs:   args.Adaptive.ExtendStepMs,
			MaxTotalMs:     args.Adaptive.MaxTotalSec * 1000,
		}
	}
	strategy := executor.OverflowStrategy(args.OverflowStrategy)
	if args.OverflowStrategy != "" && !strategy.Valid() {
		return nil, errInvalid("overflowStrategy %q is not one of return, truncate, terminate", args.OverflowStrategy)
	}

	// 8. Execute.
	result, err := g.exec.Run(ctx, executor.Options{
		Command:          args.Command,
		TimeoutMs:        int64(timeoutSecs) * 1000,
		WorkingDirectory: workdir,
		Adaptive:         adaptive,
		OverflowStrategy: strategy,
	})
	if err != nil {
		g.journal.Write("error", audit.CategoryExec, "spawn failed", map[string]any{
			"error":   err.Error(),
			"preview": events.Preview(args.Command),
		})
		return nil, errInternal("execution failed: %v", err)
	}

	// 9–10. Record to metrics, publish the event, write the audit entry,
	// persist history. Ordering: metrics strictly before the event so
	// subscribers never observe an execution missing from the counters.
	rec := metrics.Record{
		Level:      assessment.Level,
		Truncated:  result.Truncated,
		TimedOut:   result.TimedOut,
		DurationMs: result.DurationMs,
		ExitCode:   result.ExitCode,
		Preview:    events.Preview(args.Command),
		Confirmed:  args.Confirmed,
		PsCPUSec:   result.PsCPUSec,
		PsWSMB:     result.PsWSMB,
	}
	g.metrics.RecordExecution(rec)

	g.stream.Publish(events.Event{
		Kind:       events.KindExecution,
		Level:      assessment.Level,
		DurationMs: result.DurationMs,
		Truncated:  result.Truncated,
		TimedOut:   result.TimedOut,
		ExitCode:   result.ExitCode,
		Preview:    events.Preview(args.Command),
		Confirmed:  args.Confirmed,
		ToolName:   "executeCommand",
	})

	g.journal.Write("info", audit.CategoryExec, "command executed", map[string]any{
		"level":             string(assessment.Level),
		"reason":            assessment.Reason,
		"confirmed":         args.Confirmed,
		"durationMs":        result.DurationMs,
		"terminationReason": string(result.TerminationReason),
		"preview":           events.Preview(args.Command),
	})

	g.recordHistory(history.Execution{
		Level:             string(assessment.Level),
		Confirmed:         args.Confirmed,
		TimedOut:          result.TimedOut,
		Truncated:         result.Truncated,
		TerminationReason: string(result.TerminationReason),
		ExitCode:          result.ExitCode,
		DurationMs:        result.DurationMs,
		TotalBytes:        result.TotalBytes,
		Preview:           events.Preview(args.Command),
		MatchedPatterns:   assessment.MatchedPatterns,
		Reason:            assessment.Reason,
		SessionID:         args.SessionID,
	})

	// 11. Structured result plus a textual summary.
	return &ExecuteResponse{
		Result:             result,
		SecurityAssessment: assessment,
		Warnings:           warnings,
		Summary:            summarize(assessment, result),
	}, nil
}

// publishAttempt emits a zero-duration attempt event.
func (g *Gateway) publishAttempt(assessment classify.Assessment, args ExecuteArgs, toolName string) {
	g.stream.Publish(events.Event{
		Kind:      events.KindAttempt,
		Level:     assessment.Level,
		Blocked:   assessment.Blocked,
		Preview:   events.Preview(args.Command),
		Confirmed: args.Confirmed,
		ToolName:  toolName,
	})
}

func (g *Gateway) recordHistory(e history.Execution) {
	if g.history == nil {
		return
	}
	if err := g.history.Insert(e); err != nil {
		g.logger.Warn("persisting history record failed", "error", err)
	}
}

// summarize renders the human-readable tail of the response.
func summarize(assessment classify.Assessment, result *executor.Result) string {
	var b strings.Builder
	exit := "none"
	if result.ExitCode != nil {
		exit = fmt.Sprintf("%d", *result.ExitCode)
	}
	fmt.Fprintf(&b, "classification: %s (%s)\n", assessment.Level, assessment.Reason)
	fmt.Fprintf(&b, "termination: %s exit=%s duration=%dms\n", result.TerminationReason, exit, result.DurationMs)
	if result.Stdout != "" {
		b.WriteString(result.Stdout)
		if !strings.HasSuffix(result.Stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if result.Stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(result.Stderr)
	}
	return strings.TrimRight(b.String(), "\n")
}
