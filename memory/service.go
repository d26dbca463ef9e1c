package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Config holds Service configuration.
type Config struct {
	// MaxPerUser caps live (non-deleted) memories per user. When an Add
	// pushes a user over the cap, the lowest decayed-importance
	// non-permanent memories are soft-deleted until the cap holds.
	MaxPerUser int

	// SweepBatch bounds how many expired memories one sweep pass handles.
	SweepBatch int
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	MaxPerUser: 1000,
	SweepBatch: 256,
}

// Service owns the memory lifecycle: create, read-access, mutate,
// soft-delete/restore, hard-delete, decay projection, expiry sweep, and
// the best-effort mirror into the semantic index.
type Service struct {
	store    Store
	index    Index    // optional
	embedder Embedder // optional; required for index mirroring
	cfg      *Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithIndex sets the semantic index mirror.
func WithIndex(idx Index) Option {
	return func(s *Service) { s.index = idx }
}

// WithEmbedder sets the embedder used for index mirroring.
func WithEmbedder(e Embedder) Option {
	return func(s *Service) { s.embedder = e }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg *Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a memory service over the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cfg:    DefaultConfig,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "memory")
	return s
}

// AddParams are the inputs to Add. UserID, Text and Tier are required.
type AddParams struct {
	UserID     string
	Text       string
	Tier       Tier
	Source     string
	Category   Category // defaults to CategoryFact
	Importance float64  // defaults to ImportanceDefault, clamped to [0.1, 10]
	ActivityID string
	Metadata   map[string]string
}

// Add creates a memory. The secondary semantic index is updated
// best-effort: an index failure is logged and the primary write stands.
func (s *Service) Add(ctx context.Context, p AddParams) (*Memory, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("add memory: userID is required")
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, fmt.Errorf("add memory: text is required")
	}
	if !p.Tier.Valid() {
		return nil, fmt.Errorf("add memory: unknown tier %q", p.Tier)
	}
	if p.Category == "" {
		p.Category = CategoryFact
	}

	now := s.now()
	m := &Memory{
		ID:             NewID(),
		UserID:         p.UserID,
		Text:           p.Text,
		Tier:           p.Tier,
		Category:       p.Category,
		Source:         p.Source,
		Importance:     ClampImportance(p.Importance),
		CreatedAt:      now,
		LastAccessedAt: now,
		ActivityID:     p.ActivityID,
		Metadata:       p.Metadata,
	}
	if horizon, ok := p.Tier.Horizon(); ok {
		exp := now.Add(horizon)
		m.ExpiresAt = &exp
	}

	if err := s.store.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}

	s.mirror(ctx, m)
	s.enforceCap(ctx, p.UserID)

	s.logger.Debug("memory added",
		"id", m.ID, "user_id", m.UserID, "tier", m.Tier, "source", m.Source)
	return m.Clone(), nil
}

// ListByUser returns a user's memories sorted by importance descending,
// then createdAt descending.
func (s *Service) ListByUser(ctx context.Context, userID string, f Filter) ([]*Memory, error) {
	list, err := s.store.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Importance != list[j].Importance {
			return list[i].Importance > list[j].Importance
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	out := make([]*Memory, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out, nil
}

// UpdatePatch carries the mutable fields of a memory. Nil fields are left
// untouched.
type UpdatePatch struct {
	Text       *string
	Metadata   map[string]string
	Importance *float64
}

// Update applies the patch and returns the updated memory, or (nil, nil)
// when the id is unknown. A text change regenerates the semantic index
// entry.
func (s *Service) Update(ctx context.Context, id string, patch UpdatePatch) (*Memory, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	if m == nil {
		return nil, nil
	}

	textChanged := false
	if patch.Text != nil && *patch.Text != m.Text {
		m.Text = *patch.Text
		m.Embedding = nil // stale once the text moved
		textChanged = true
	}
	if patch.Metadata != nil {
		m.Metadata = patch.Metadata
	}
	if patch.Importance != nil {
		m.Importance = ClampImportance(*patch.Importance)
	}

	ok, err := s.store.Update(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	if !ok {
		return nil, nil
	}

	if textChanged {
		s.mirror(ctx, m)
	}
	return m.Clone(), nil
}

// SoftDelete hides the memory from every default read path and removes
// its index entry. Returns false when the id is unknown.
func (s *Service) SoftDelete(ctx context.Context, id string) (bool, error) {
	return s.setDeleted(ctx, id, true)
}

// Restore reverses a soft delete and re-mirrors the entry. Returns false
// when the id is unknown.
func (s *Service) Restore(ctx context.Context, id string) (bool, error) {
	return s.setDeleted(ctx, id, false)
}

func (s *Service) setDeleted(ctx context.Context, id string, deleted bool) (bool, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("set deleted: %w", err)
	}
	if m == nil {
		return false, nil
	}
	if m.Deleted == deleted {
		return true, nil
	}
	m.Deleted = deleted
	ok, err := s.store.Update(ctx, m)
	if err != nil {
		return false, fmt.Errorf("set deleted: %w", err)
	}
	if !ok {
		return false, nil
	}
	if deleted {
		s.unmirror(ctx, m.UserID, m.ID)
	} else {
		s.mirror(ctx, m)
	}
	return true, nil
}

// Delete removes the memory from both stores permanently. Admin-only path.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	if m == nil {
		return false, nil
	}
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	if ok {
		s.unmirror(ctx, m.UserID, m.ID)
	}
	return ok, nil
}

// MarkAccessed records a read access on the given memories, bumping
// accessCount and lastAccessedAt. Best-effort: failures are logged.
func (s *Service) MarkAccessed(ctx context.Context, ids ...string) {
	now := s.now()
	for _, id := range ids {
		m, err := s.store.Get(ctx, id)
		if err != nil || m == nil {
			continue
		}
		m.AccessCount++
		m.LastAccessedAt = now
		if _, err := s.store.Update(ctx, m); err != nil {
			s.logger.Warn("access touch failed", "id", id, "error", err)
		}
	}
}

// Sweep soft-deletes memories past their expiration horizon. Idempotent
// and safe to run concurrently with reads; at most cfg.SweepBatch records
// are handled per call. Returns how many memories were deactivated.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpired(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("memory sweep: %w", err)
	}
	n := 0
	for _, m := range expired {
		if m.Deleted {
			continue
		}
		m.Deleted = true
		if _, err := s.store.Update(ctx, m); err != nil {
			s.logger.Warn("sweep update failed", "id", m.ID, "error", err)
			continue
		}
		s.unmirror(ctx, m.UserID, m.ID)
		n++
	}
	if n > 0 {
		s.logger.Info("memory sweep deactivated expired memories", "count", n)
	}
	return n, nil
}

// enforceCap soft-deletes the lowest decayed-importance non-permanent
// memories once the user is over the per-user cap. Best-effort.
func (s *Service) enforceCap(ctx context.Context, userID string) {
	if s.cfg.MaxPerUser <= 0 {
		return
	}
	count, err := s.store.CountByUser(ctx, userID)
	if err != nil || count <= s.cfg.MaxPerUser {
		return
	}

	list, err := s.store.ListByUser(ctx, userID, Filter{})
	if err != nil {
		s.logger.Warn("cap enforcement list failed", "user_id", userID, "error", err)
		return
	}

	now := s.now()
	var prunable []*Memory
	for _, m := range list {
		if m.Tier != TierPermanent {
			prunable = append(prunable, m)
		}
	}
	sort.Slice(prunable, func(i, j int) bool {
		di, dj := DecayedImportance(prunable[i], now), DecayedImportance(prunable[j], now)
		if di != dj {
			return di < dj
		}
		return prunable[i].CreatedAt.Before(prunable[j].CreatedAt)
	})

	excess := count - s.cfg.MaxPerUser
	for i := 0; i < excess && i < len(prunable); i++ {
		m := prunable[i]
		m.Deleted = true
		if _, err := s.store.Update(ctx, m); err != nil {
			s.logger.Warn("cap prune failed", "id", m.ID, "error", err)
			continue
		}
		s.unmirror(ctx, m.UserID, m.ID)
	}
	s.logger.Info("pruned memories over per-user cap",
		"user_id", userID, "pruned", excess, "cap", s.cfg.MaxPerUser)
}

// mirror writes the memory into the semantic index, embedding the text
// first when an embedder is configured. Failures are logged and swallowed:
// memory persistence must not fail because indexing failed.
func (s *Service) mirror(ctx context.Context, m *Memory) {
	if s.index == nil {
		return
	}
	if m.Embedding == nil && s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, m.Text)
		if err != nil {
			s.logger.Warn("embed for index mirror failed", "id", m.ID, "error", err)
			return
		}
		m.Embedding = emb
		// Persist the embedding so restarts do not re-embed. Best-effort.
		if _, err := s.store.Update(ctx, m); err != nil {
			s.logger.Warn("persist embedding failed", "id", m.ID, "error", err)
		}
	}
	if m.Embedding == nil {
		return
	}
	if err := s.index.Upsert(ctx, m); err != nil {
		s.logger.Warn("index mirror failed", "id", m.ID, "error", err)
	}
}

func (s *Service) unmirror(ctx context.Context, userID, id string) {
	if s.index == nil {
		return
	}
	if err := s.index.Remove(ctx, userID, id); err != nil {
		s.logger.Warn("index remove failed", "id", id, "error", err)
	}
}

// Close releases the underlying store and index.
func (s *Service) Close() error {
	var first error
	if err := s.store.Close(); err != nil {
		first = err
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
