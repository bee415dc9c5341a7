package gateway

import (
	"context"
	"time"

	"github.com/psgate/psgate/internal/audit"
	"github.com/psgate/psgate/internal/classify"
	"github.com/psgate/psgate/internal/executor"
	"github.com/psgate/psgate/internal/history"
	"github.com/psgate/psgate/internal/learning"
	"github.com/psgate/psgate/internal/metrics"
	"github.com/psgate/psgate/internal/pathpolicy"
	"github.com/psgate/psgate/internal/syntax"
)

// CommonArgs carry the transport-attached fields shared by every tool.
type CommonArgs struct {
	AuthKey  string `json:"authKey,omitempty"`
	CallerID string `json:"callerId,omitempty"`
}

func (g *Gateway) authenticate(args CommonArgs) error {
	if err := g.auth.Verify(args.AuthKey); err != nil {
		g.journal.Write("warn", audit.CategoryAuthFailed, "authentication failed", map[string]any{
			"caller": args.CallerID,
		})
		return errUnauthorized("missing or invalid auth key")
	}
	return nil
}

// CheckSyntaxArgs are the checkSyntax tool arguments.
type CheckSyntaxArgs struct {
	CommonArgs
	Script   string `json:"script,omitempty"`
	FilePath string `json:"filePath,omitempty"`
}

// CheckSyntax parses a script without running it.
func (g *Gateway) CheckSyntax(ctx context.Context, args CheckSyntaxArgs) (*syntax.Result, error) {
	if err := g.authenticate(args.CommonArgs); err != nil {
		return nil, err
	}
	if g.checker == nil {
		return nil, errInternal("syntax checker unavailable")
	}
	switch {
	case args.Script != "" && args.FilePath != "":
		return nil, errInvalid("provide script or filePath, not both")
	case args.Script != "":
		res, err := g.checker.CheckScript(ctx, args.Script)
		if err != nil {
			return nil, errInternal("syntax check failed: %v", err)
		}
		return res, nil
	case args.FilePath != "":
		res, err := g.checker.CheckFile(ctx, args.FilePath)
		if err != nil {
			return nil, errInvalid("syntax check failed: %v", err)
		}
		return res, nil
	default:
		return nil, errInvalid("script or filePath is required")
	}
}

// PolicyArgs are the workingDirectoryPolicy tool arguments.
type PolicyArgs struct {
	CommonArgs
	Action       string   `json:"action"`
	Enabled      *bool    `json:"enabled,omitempty"`
	AllowedRoots []string `json:"allowedRoots,omitempty"`
}

// WorkingDirectoryPolicy reads or replaces the path policy. Changes take
// effect immediately.
func (g *Gateway) WorkingDirectoryPolicy(args PolicyArgs) (pathpolicy.Policy, error) {
	if err := g.authenticate(args.CommonArgs); err != nil {
		return pathpolicy.Policy{}, err
	}
	switch args.Action {
	case "get":
		return g.policy.Current(), nil
	case "set":
		next := g.policy.Current()
		if args.Enabled != nil {
			next.Enforced = *args.Enabled
		}
		if args.AllowedRoots != nil {
			next.AllowedRoots = args.AllowedRoots
		}
		if next.Enforced && len(next.AllowedRoots) == 0 {
			return pathpolicy.Policy{}, errInvalid("allowedRoots must not be empty when enforcement is on")
		}
		g.policy.Set(next)
		applied := g.policy.Current()
		g.journal.Write("info", audit.CategoryPolicyChanged, "working directory policy changed", map[string]any{
			"enforced": applied.Enforced,
			"roots":    len(applied.AllowedRoots),
		})
		return applied, nil
	default:
		return pathpolicy.Policy{}, errInvalid("action must be get or set")
	}
}

// StatsArgs are the serverStats tool arguments.
type StatsArgs struct {
	CommonArgs
	Verbose bool `json:"verbose,omitempty"`
	Reset   bool `json:"reset,omitempty"`
}

// StatsResponse wraps the metrics snapshot with server-level fields.
type StatsResponse struct {
	metrics.Snapshot
	UptimeSeconds   int64            `json:"uptimeSeconds"`
	Subscribers     int              `json:"subscribers,omitempty"`
	DroppedEvents   int64            `json:"droppedEvents,omitempty"`
	RateBuckets     int              `json:"rateBuckets,omitempty"`
	RecentCommands  []metrics.Record `json:"recentCommands,omitempty"`
	SuppressedRules []string         `json:"suppressedRules,omitempty"`
}

// ServerStats returns the metrics snapshot.
func (g *Gateway) ServerStats(args StatsArgs) (*StatsResponse, error) {
	if err := g.authenticate(args.CommonArgs); err != nil {
		return nil, err
	}
	resp := &StatsResponse{
		Snapshot:      g.metrics.Snapshot(args.Reset),
		UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
	}
	if args.Verbose {
		resp.Subscribers = g.stream.SubscriberCount()
		resp.DroppedEvents = g.stream.Dropped()
		resp.RateBuckets = g.limiter.BucketCount()
		resp.RecentCommands = g.metrics.Recent(20)
		resp.SuppressedRules = g.store.SuppressedNames()
	}
	return resp, nil
}

// ThreatArgs are the threatAnalysis tool arguments.
type ThreatArgs struct {
	CommonArgs
	TopN int `json:"topN,omitempty"`
}

// ThreatResponse summarizes UNKNOWN-command activity.
type ThreatResponse struct {
	TotalCandidates  int                  `json:"totalCandidates"`
	TotalSightings   int                  `json:"totalSightings"`
	DistinctSessions int                  `json:"distinctSessions"`
	Top              []learning.Aggregate `json:"top"`
	RecentUnknown    []history.Execution  `json:"recentUnknown,omitempty"`
}

// ThreatAnalysis reports on unmatched commands observed so far.
func (g *Gateway) ThreatAnalysis(args ThreatArgs) (*ThreatResponse, error) {
	if err := g.authenticate(args.CommonArgs); err != nil {
		return nil, err
	}
	if g.learning == nil {
		return nil, errInternal("learning pipeline unavailable")
	}
	aggs, err := g.learning.Aggregate()
	if err != nil {
		return nil, errInternal("aggregating candidates: %v", err)
	}
	topN := args.TopN
	if topN <= 0 {
		topN = 10
	}
	resp := &ThreatResponse{TotalCandidates: len(aggs)}
	for _, a := range aggs {
		resp.TotalSightings += a.Count
		if a.DistinctSessions > resp.DistinctSessions {
			resp.DistinctSessions = a.DistinctSessions
		}
	}
	if len(aggs) > topN {
		resp.Top = aggs[:topN]
	} else {
		resp.Top = aggs
	}
	if g.history != nil {
		recent, err := g.history.List(history.Filter{Level: string(classify.LevelUnknown), Limit: topN})
		if err == nil {
			resp.RecentUnknown = recent
		}
	}
	return resp, nil
}

// LearnArgs are the learn tool arguments.
type LearnArgs struct {
	CommonArgs
	Action     string   `json:"action"`
	Limit      int      `json:"limit,omitempty"`
	MinCount   int      `json:"minCount,omitempty"`
	Normalized []string `json:"normalized,omitempty"`
}

// LearnResponse is the action-specific learn result.
type LearnResponse struct {
	Action       string                    `json:"action"`
	Candidates   []learning.Aggregate      `json:"candidates,omitempty"`
	Recommended  []learning.Recommendation `json:"recommended,omitempty"`
	Queue        []learning.QueueEntry     `json:"queue,omitempty"`
	Approved     []learning.ApprovedEntry  `json:"approved,omitempty"`
	RemovedCount int                       `json:"removedCount,omitempty"`
}

// Learn dispatches the learning pipeline actions.
func (g *Gateway) Learn(args LearnArgs) (*LearnResponse, error) {
	if err := g.authenticate(args.CommonArgs); err != nil {
		return nil, err
	}
	if g.learning == nil {
		return nil, errInternal("learning pipeline unavailable")
	}
	resp := &LearnResponse{Action: args.Action}
	switch args.Action {
	case "list":
		aggs, err := g.learning.Aggregate()
		if err != nil {
			return nil, errInternal("aggregating candidates: %v", err)
		}
		if args.Limit > 0 && len(aggs) > args.Limit {
			aggs = aggs[:args.Limit]
		}
		resp.Candidates = aggs
	case "recommend":
		recs, err := g.learning.Recommend(args.Limit, args.MinCount)
		if err != nil {
			return nil, errInternal("scoring candidates: %v", err)
		}
		resp.Recommended = recs
	case "queue":
		if len(args.Normalized) == 0 {
			return nil, errInvalid("normalized forms are required for queue")
		}
		if err := g.learning.Queue(args.Normalized); err != nil {
			return nil, errInternal("queueing candidates: %v", err)
		}
		queue, err := g.learning.ListQueue()
		if err != nil {
			return nil, errInternal("listing queue: %v", err)
		}
		resp.Queue = queue
	case "approve":
		if len(args.Normalized) == 0 {
			return nil, errInvalid("normalized forms are required for approve")
		}
		approved, err := g.learning.Approve(args.Normalized)
		if err != nil {
			return nil, errInternal("approving candidates: %v", err)
		}
		resp.Approved = approved
		g.journal.Write("info", audit.CategoryLearning, "learned-safe patterns approved", map[string]any{
			"count": len(approved),
		})
	case "remove":
		if len(args.Normalized) == 0 {
			return nil, errInvalid("normalized forms are required for remove")
		}
		removed, err := g.learning.RemoveFromQueue(args.Normalized)
		if err != nil {
			return nil, errInternal("removing from queue: %v", err)
		}
		resp.RemovedCount = removed
	default:
		return nil, errInvalid("action must be one of list, recommend, queue, approve, remove")
	}
	return resp, nil
}

// CaptureSample forces one process-metrics sample (test hook).
func (g *Gateway) CaptureSample(args CommonArgs) (*executor.ProcessSample, error) {
	if err := g.authenticate(args); err != nil {
		return nil, err
	}
	sample, err := executor.SampleSelf()
	if err != nil {
		return nil, errInternal("sampling process: %v", err)
	}
	return sample, nil
}

// HistoryArgs are the history tool arguments.
type HistoryArgs struct {
	CommonArgs
	Level   string `json:"level,omitempty"`
	Blocked *bool  `json:"blocked,omitempty"`
	SinceMs int64  `json:"sinceMs,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// History lists persisted execution records, newest first.
func (g *Gateway) History(args HistoryArgs) ([]history.Execution, error) {
	if err := g.authenticate(args.CommonArgs); err != nil {
		return nil, err
	}
	if g.history == nil {
		return nil, errInternal("history store unavailable")
	}
	filter := history.Filter{Level: args.Level, Blocked: args.Blocked, Limit: args.Limit}
	if args.SinceMs > 0 {
		filter.Since = time.UnixMilli(args.SinceMs)
	}
	records, err := g.history.List(filter)
	if err != nil {
		return nil, errInternal("listing history: %v", err)
	}
	return records, nil
}
