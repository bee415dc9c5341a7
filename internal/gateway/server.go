package gateway

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/psgate/psgate/internal/audit"
	"github.com/psgate/psgate/internal/auth"
	"github.com/psgate/psgate/internal/classify"
	"github.com/psgate/psgate/internal/config"
	"github.com/psgate/psgate/internal/events"
	"github.com/psgate/psgate/internal/executor"
	"github.com/psgate/psgate/internal/history"
	"github.com/psgate/psgate/internal/learning"
	"github.com/psgate/psgate/internal/metrics"
	"github.com/psgate/psgate/internal/pathpolicy"
	"github.com/psgate/psgate/internal/patterns"
	"github.com/psgate/psgate/internal/ratelimit"
	"github.com/psgate/psgate/internal/syntax"
)

// Gateway composes the core subsystems behind the tool surface. All handles
// are injected at construction so tests build a fresh set per case.
type Gateway struct {
	cfg        config.Config
	auth       *auth.Authenticator
	limiter    *ratelimit.Limiter
	store      *patterns.Store
	classifier *classify.Classifier
	learning   *learning.Pipeline
	policy     *pathpolicy.Store
	exec       *executor.Executor
	metrics    *metrics.Registry
	journal    *audit.Journal
	stream     *events.Stream
	history    *history.DB
	checker    *syntax.Checker
	logger     *log.Logger
	startedAt  time.Time
}

// Options bundles the injected handles.
type Options struct {
	Config     config.Config
	Auth       *auth.Authenticator
	Limiter    *ratelimit.Limiter
	Store      *patterns.Store
	Classifier *classify.Classifier
	Learning   *learning.Pipeline
	Policy     *pathpolicy.Store
	Executor   *executor.Executor
	Metrics    *metrics.Registry
	Audit      *audit.Journal
	Events     *events.Stream
	History    *history.DB
	Checker    *syntax.Checker
	Logger     *log.Logger
}

// New wires a gateway from pre-built handles.
func New(opts Options) (*Gateway, error) {
	if opts.Auth == nil || opts.Limiter == nil || opts.Store == nil ||
		opts.Classifier == nil || opts.Policy == nil || opts.Executor == nil ||
		opts.Metrics == nil || opts.Audit == nil || opts.Events == nil {
		return nil, fmt.Errorf("gateway requires all core handles")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		cfg:        opts.Config,
		auth:       opts.Auth,
		limiter:    opts.Limiter,
		store:      opts.Store,
		classifier: opts.Classifier,
		learning:   opts.Learning,
		policy:     opts.Policy,
		exec:       opts.Executor,
		metrics:    opts.Metrics,
		journal:    opts.Audit,
		stream:     opts.Events,
		history:    opts.History,
		checker:    opts.Checker,
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}, nil
}

// Build constructs every subsystem from configuration. serve and the tests'
// integration harness both go through here.
func Build(cfg config.Config, logger *log.Logger) (*Gateway, error) {
	if logger == nil {
		logger = log.Default()
	}

	store := patterns.NewStore()
	pipeline, err := learning.NewPipeline(learning.PipelineOptions{
		DataDir:         cfg.General.DataDir,
		Secret:          cfg.Learning.Secret,
		JournalMaxBytes: cfg.Learning.JournalMaxBytes,
		Logger:          logger,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("building learning pipeline: %w", err)
	}

	classifier := classify.New(store, pipeline)

	journal, err := audit.NewJournal(cfg.General.LogsDir)
	if err != nil {
		return nil, fmt.Errorf("building audit journal: %w", err)
	}

	hist, err := history.Open(filepath.Join(cfg.General.DataDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	shell := executor.ResolveShell(cfg.Executor.Shell, "")
	exec := executor.New(executor.Config{
		Shell:                 shell,
		ChunkKB:               cfg.Executor.ChunkKB,
		MaxOutputKB:           cfg.Executor.MaxOutputKB,
		MaxLines:              cfg.Executor.MaxLines,
		OverflowStrategy:      executor.OverflowStrategy(cfg.Executor.OverflowStrategy),
		CaptureProcessMetrics: cfg.Executor.CaptureProcessMetrics,
		DisableSelfDestruct:   cfg.Executor.DisableSelfDestruct,
		Logger:                logger,
	})

	stream := events.NewStream()
	stream.SetPublishAttempts(cfg.Events.PublishAttempts)

	return New(Options{
		Config:     cfg,
		Auth:       auth.New(cfg.Auth.Key),
		Limiter: ratelimit.New(ratelimit.Config{
			Capacity:     cfg.RateLimit.Capacity,
			RefillEvery:  time.Duration(cfg.RateLimit.RefillMs) * time.Millisecond,
			RefillAmount: cfg.RateLimit.RefillAmount,
		}),
		Store:      store,
		Classifier: classifier,
		Learning:   pipeline,
		Policy: pathpolicy.NewStore(pathpolicy.Policy{
			Enforced:     cfg.Workdir.Enforced,
			AllowedRoots: cfg.Workdir.AllowedRoots,
		}),
		Executor: exec,
		Metrics:  metrics.NewRegistry(0),
		Audit:    journal,
		Events:   stream,
		History:  hist,
		Checker:  syntax.New(shell.Path),
		Logger:   logger,
	})
}

// Events exposes the stream for transports and dashboards.
func (g *Gateway) Events() *events.Stream {
	return g.stream
}

// Learning exposes the learning pipeline (for the approved-list watcher).
func (g *Gateway) Learning() *learning.Pipeline {
	return g.learning
}

// Metrics exposes the registry (for the prometheus bridge).
func (g *Gateway) Metrics() *metrics.Registry {
	return g.metrics
}

// Limiter exposes the rate limiter (for the eviction sweep).
func (g *Gateway) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// Close flushes and closes owned resources.
func (g *Gateway) Close() error {
	var first error
	if g.history != nil {
		if err := g.history.Close(); err != nil {
			first = err
		}
	}
	if err := g.journal.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
