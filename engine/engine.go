// Package engine wires the memory store, context registry, retriever,
// and prompt builder into one companion engine and runs their
// background maintenance.
package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/companion-core/core"
	"github.com/becomeliminal/companion-core/memory"
	"github.com/becomeliminal/companion-core/prompt"
	"github.com/becomeliminal/companion-core/retrieval"
	"github.com/becomeliminal/companion-core/situation"
)

// Prober re-checks a tripped primary store. Both failover stores
// implement it.
type Prober interface {
	Probe(ctx context.Context)
}

// Config tunes the engine's background maintenance.
type Config struct {
	// SweepInterval is how often expired memories and context items are
	// swept. Zero uses the default.
	SweepInterval time.Duration
	// ProbeInterval is how often tripped primaries are re-checked.
	ProbeInterval time.Duration
	// HistoryTokenBudget is the default budget for FormatHistory.
	HistoryTokenBudget int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval:      5 * time.Minute,
		ProbeInterval:      time.Minute,
		HistoryTokenBudget: 2000,
	}
}

// Engine is the composition root: one instance serves all users.
type Engine struct {
	memories   *memory.Service
	situations *situation.Registry
	retriever  *retrieval.Retriever
	builder    *prompt.Builder
	history    prompt.HistorySummarizer
	probers    []Prober
	cfg        Config
	logger     *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures the engine.
type Option func(*Engine)

// WithHistorySummarizer replaces the heuristic history summarizer with
// a model-backed one.
func WithHistorySummarizer(s prompt.HistorySummarizer) Option {
	return func(e *Engine) { e.history = s }
}

// WithProbers registers failover stores whose primaries should be
// re-checked periodically.
func WithProbers(ps ...Prober) Option {
	return func(e *Engine) { e.probers = append(e.probers, ps...) }
}

// WithConfig overrides the default configuration. Zero fields keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.SweepInterval > 0 {
			e.cfg.SweepInterval = cfg.SweepInterval
		}
		if cfg.ProbeInterval > 0 {
			e.cfg.ProbeInterval = cfg.ProbeInterval
		}
		if cfg.HistoryTokenBudget > 0 {
			e.cfg.HistoryTokenBudget = cfg.HistoryTokenBudget
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine over the given collaborators.
func New(memories *memory.Service, situations *situation.Registry, retriever *retrieval.Retriever, builder *prompt.Builder, opts ...Option) *Engine {
	e := &Engine{
		memories:   memories,
		situations: situations,
		retriever:  retriever,
		builder:    builder,
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Remember stores a memory.
func (e *Engine) Remember(ctx context.Context, p memory.AddParams) (*memory.Memory, error) {
	return e.memories.Add(ctx, p)
}

// Memories lists a user's memories for browsing.
func (e *Engine) Memories(ctx context.Context, userID string, f memory.Filter) ([]*memory.Memory, error) {
	return e.memories.ListByUser(ctx, userID, f)
}

// UpdateMemory patches a memory. Returns nil with no error when the id
// does not exist.
func (e *Engine) UpdateMemory(ctx context.Context, id string, patch memory.UpdatePatch) (*memory.Memory, error) {
	return e.memories.Update(ctx, id, patch)
}

// ForgetMemory soft-deletes a memory. False means the id was unknown.
func (e *Engine) ForgetMemory(ctx context.Context, id string) (bool, error) {
	return e.memories.SoftDelete(ctx, id)
}

// Situate records a situational context item.
func (e *Engine) Situate(ctx context.Context, p situation.InjectParams) (*situation.Item, error) {
	return e.situations.Inject(ctx, p)
}

// Context lists a user's context items.
func (e *Engine) Context(ctx context.Context, userID string, f situation.Filter) ([]*situation.Item, error) {
	return e.situations.List(ctx, userID, f)
}

// Recall ranks the user's memories against a query.
func (e *Engine) Recall(ctx context.Context, userID, query string, limit int, opts retrieval.Options) ([]retrieval.Result, error) {
	return e.retriever.Retrieve(ctx, userID, query, limit, opts)
}

// BuildPrompt assembles the system prompt for a chat turn.
func (e *Engine) BuildPrompt(ctx context.Context, p prompt.BuildParams) string {
	return e.builder.Build(ctx, p)
}

// FormatHistory windows conversation history to the configured token
// budget, summarizing the excluded prefix.
func (e *Engine) FormatHistory(ctx context.Context, messages []core.Message) []core.Message {
	return prompt.FormatHistory(ctx, messages, e.cfg.HistoryTokenBudget, e.history)
}

// Start launches background maintenance: periodic expiry sweeps and
// failover probe loops. Safe to call once; Close stops it.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, ctx = errgroup.WithContext(ctx)

	e.group.Go(func() error {
		e.sweepLoop(ctx)
		return nil
	})
	if len(e.probers) > 0 {
		e.group.Go(func() error {
			e.probeLoop(ctx)
			return nil
		})
	}
	e.logger.Info("engine started",
		"sweep_interval", e.cfg.SweepInterval,
		"probe_interval", e.cfg.ProbeInterval,
	)
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass over both stores. Exposed for callers that
// schedule their own maintenance.
func (e *Engine) Sweep(ctx context.Context) {
	now := time.Now()
	if n, err := e.memories.Sweep(ctx, now); err != nil {
		e.logger.Warn("memory sweep failed", "error", err)
	} else if n > 0 {
		e.logger.Info("memory sweep", "expired", n)
	}
	if n, err := e.situations.Sweep(ctx, now); err != nil {
		e.logger.Warn("context sweep failed", "error", err)
	} else if n > 0 {
		e.logger.Info("context sweep", "deactivated", n)
	}
}

func (e *Engine) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range e.probers {
				p.Probe(ctx)
			}
		}
	}
}

// Close stops background maintenance and closes the collaborators.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
		e.group.Wait()
	}
	var firstErr error
	if err := e.situations.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.memories.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
