// Package retrieval ranks a user's memories against a query, optionally
// scoped to an active task.
//
// The pipeline shape is the durable contract: candidates, scope filter,
// score, threshold, sort/limit. Only the relevance term of the score is
// pluggable (Scorer); importance, source boosts, and activity scoping are
// fixed pipeline behavior.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/companion-core/memory"
)

// Defaults for Options fields left zero.
const (
	DefaultThreshold     = 0.2
	DefaultActivityBoost = 0.5
	DefaultLimit         = 10

	// sourceBoost is the flat bonus for activity-summary memories.
	sourceBoost = 0.2
	// crossActivityPenalty halves the score of a memory tagged to a
	// different task than the active scope.
	crossActivityPenalty = 0.5
	// importanceDivisor converts importance [0.1,10] into a score term
	// capped at 0.5.
	importanceDivisor = 20.0
)

// Result pairs a memory with its retrieval score. Transient, never
// persisted.
type Result struct {
	Memory *memory.Memory
	Score  float64
}

// Options tune one Retrieve call.
type Options struct {
	// ActivityScope enables task scoping. ActivityID names the active
	// task; when scoping is enabled with no active task, only unscoped
	// memories survive the filter.
	ActivityScope bool
	ActivityID    string

	// Threshold drops results scoring at or below it. Zero means
	// DefaultThreshold.
	Threshold float64

	// ActivityBoost is added to memories tagged with the active task.
	// Zero means DefaultActivityBoost.
	ActivityBoost float64

	// IncludeDeleted opts soft-deleted memories into the candidate set.
	IncludeDeleted bool

	// RequestID tags log lines for tracing; generated when empty.
	RequestID string
}

// Retriever runs the retrieval pipeline over the memory service.
type Retriever struct {
	memories *memory.Service
	scorer   Scorer
	logger   *slog.Logger
}

// Option configures the retriever.
type Option func(*Retriever)

// WithScorer replaces the default lexical scorer.
func WithScorer(s Scorer) Option {
	return func(r *Retriever) {
		if s != nil {
			r.scorer = s
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a retriever over the given memory service.
func New(memories *memory.Service, opts ...Option) *Retriever {
	r := &Retriever{
		memories: memories,
		scorer:   LexicalScorer{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "retrieval")
	return r
}

// Retrieve ranks the user's memories against the query and returns the
// top limit results above the threshold. An empty candidate set returns
// an empty list, never an error; an empty query scores purely on
// importance, source, and scope terms.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, limit int, opts Options) ([]Result, error) {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.ActivityBoost == 0 {
		opts.ActivityBoost = DefaultActivityBoost
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if opts.RequestID == "" {
		opts.RequestID = uuid.NewString()
	}
	log := r.logger.With("request_id", opts.RequestID, "user_id", userID)

	candidates, err := r.memories.ListByUser(ctx, userID, memory.Filter{IncludeDeleted: opts.IncludeDeleted})
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	candidates = scopeFilter(candidates, opts)
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	base, err := r.scorer.Score(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("retrieve: score: %w", err)
	}

	results := make([]Result, 0, len(candidates))
	for i, m := range candidates {
		score := base[i]
		score += m.Importance / importanceDivisor
		if m.Source == memory.SourceActivitySummary {
			score += sourceBoost
		}
		if opts.ActivityScope && m.Source != memory.SourceActivitySummary {
			switch {
			case opts.ActivityID != "" && m.ActivityID == opts.ActivityID:
				score += opts.ActivityBoost
			case m.ActivityID != "" && m.ActivityID != opts.ActivityID:
				// Penalize cross-task leakage.
				score *= crossActivityPenalty
			}
		}
		if score <= opts.Threshold {
			continue
		}
		results = append(results, Result{Memory: m, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	// Read access touches the returned memories. Best-effort.
	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.Memory.ID
	}
	r.memories.MarkAccessed(ctx, ids...)

	log.Debug("retrieval completed",
		"query_len", len(query),
		"candidates", len(candidates),
		"results", len(results),
		"scoped", opts.ActivityScope,
		"activity_id", opts.ActivityID,
	)
	return results, nil
}

// scopeFilter applies the activity scope. Activity-summary memories are
// never excluded by scoping.
func scopeFilter(candidates []*memory.Memory, opts Options) []*memory.Memory {
	if !opts.ActivityScope {
		return candidates
	}
	out := make([]*memory.Memory, 0, len(candidates))
	for _, m := range candidates {
		if m.Source == memory.SourceActivitySummary {
			out = append(out, m)
			continue
		}
		if opts.ActivityID != "" {
			if m.ActivityID == opts.ActivityID {
				out = append(out, m)
			}
		} else if m.ActivityID == "" {
			out = append(out, m)
		}
	}
	return out
}

// ResultAge is a small helper for display layers: how old the memory is
// at the given instant.
func ResultAge(res Result, now time.Time) time.Duration {
	return now.Sub(res.Memory.CreatedAt)
}
