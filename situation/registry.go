package situation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/becomeliminal/companion-core/memory"
)

// Config holds Registry configuration.
type Config struct {
	// SweepBatch bounds how many expired items one sweep pass handles.
	SweepBatch int
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	SweepBatch: 256,
}

// Registry owns the context-item lifecycle: inject, read, patch,
// deactivate, remove, and the expiry sweep. Independent of the memory
// store; the two share nothing but the failover policy.
type Registry struct {
	store  Store
	cfg    *Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the registry.
type Option func(*Registry)

// WithConfig overrides the default configuration.
func WithConfig(cfg *Config) Option {
	return func(r *Registry) {
		if cfg != nil {
			r.cfg = cfg
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a context registry over the given store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		cfg:    DefaultConfig,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "situation")
	return r
}

// InjectParams are the inputs to Inject.
type InjectParams struct {
	UserID   string
	Type     Type
	Duration DurationTier
	Data     Data
	Source   string
	Metadata map[string]string
}

// Inject records a new situational fact. Items are always active at
// creation; expiry is computed from the duration tier.
func (r *Registry) Inject(ctx context.Context, p InjectParams) (*Item, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("inject context: userID is required")
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("inject context: unknown type %q", p.Type)
	}
	if !p.Duration.Valid() {
		return nil, fmt.Errorf("inject context: unknown duration tier %q", p.Duration)
	}
	if len(p.Data.Extra) > MaxExtraFields {
		return nil, fmt.Errorf("inject context: extra fields exceed cap of %d", MaxExtraFields)
	}

	now := r.now()
	it := &Item{
		ID:        memory.NewID(),
		UserID:    p.UserID,
		Type:      p.Type,
		Duration:  p.Duration,
		Data:      p.Data,
		Source:    p.Source,
		Metadata:  p.Metadata,
		Active:    true,
		CreatedAt: now,
	}
	if horizon, ok := p.Duration.Horizon(); ok {
		exp := now.Add(horizon)
		it.ExpiresAt = &exp
	}

	if err := r.store.Insert(ctx, it); err != nil {
		return nil, fmt.Errorf("inject context: %w", err)
	}
	r.logger.Debug("context injected",
		"id", it.ID, "user_id", it.UserID, "type", it.Type, "duration", it.Duration)
	return it.Clone(), nil
}

// List returns the user's context items sorted by createdAt descending.
// Unless f.IncludeInactive is set, only live items are returned: active
// and not past their horizon, even if the sweep has not run yet.
func (r *Registry) List(ctx context.Context, userID string, f Filter) ([]*Item, error) {
	list, err := r.store.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list context: %w", err)
	}
	now := r.now()
	out := make([]*Item, 0, len(list))
	for _, it := range list {
		if !f.IncludeInactive && !it.Live(now) {
			continue
		}
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Patch carries mutable context-item fields. Nil fields are left alone.
// Changing the duration tier recomputes expiry from the original
// creation time.
type Patch struct {
	Data     *Data
	Source   *string
	Metadata map[string]string
	Duration *DurationTier
}

// Update applies the patch and returns the updated item, or (nil, nil)
// when the id is unknown.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (*Item, error) {
	it, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update context: %w", err)
	}
	if it == nil {
		return nil, nil
	}

	if patch.Data != nil {
		if len(patch.Data.Extra) > MaxExtraFields {
			return nil, fmt.Errorf("update context: extra fields exceed cap of %d", MaxExtraFields)
		}
		it.Data = *patch.Data
	}
	if patch.Source != nil {
		it.Source = *patch.Source
	}
	if patch.Metadata != nil {
		it.Metadata = patch.Metadata
	}
	if patch.Duration != nil {
		if !patch.Duration.Valid() {
			return nil, fmt.Errorf("update context: unknown duration tier %q", *patch.Duration)
		}
		it.Duration = *patch.Duration
		it.ExpiresAt = nil
		if horizon, ok := patch.Duration.Horizon(); ok {
			exp := it.CreatedAt.Add(horizon)
			it.ExpiresAt = &exp
		}
	}

	ok, err := r.store.Update(ctx, it)
	if err != nil {
		return nil, fmt.Errorf("update context: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return it.Clone(), nil
}

// Deactivate flips the item inactive without deleting it. Returns false
// when the id is unknown.
func (r *Registry) Deactivate(ctx context.Context, id string) (bool, error) {
	it, err := r.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deactivate context: %w", err)
	}
	if it == nil {
		return false, nil
	}
	if !it.Active {
		return true, nil
	}
	it.Active = false
	ok, err := r.store.Update(ctx, it)
	if err != nil {
		return false, fmt.Errorf("deactivate context: %w", err)
	}
	return ok, nil
}

// Remove hard-deletes the item. Explicit callers only; expiry never
// takes this path.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("remove context: %w", err)
	}
	return ok, nil
}

// Sweep marks expired-but-still-active items inactive. Idempotent and
// safe to run concurrently; returns how many items were deactivated.
func (r *Registry) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := r.store.ListExpiredActive(ctx, now, r.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("context sweep: %w", err)
	}
	n := 0
	for _, it := range expired {
		if !it.Active {
			continue
		}
		it.Active = false
		if _, err := r.store.Update(ctx, it); err != nil {
			r.logger.Warn("sweep update failed", "id", it.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		r.logger.Info("context sweep deactivated expired items", "count", n)
	}
	return n, nil
}

// Close releases the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
