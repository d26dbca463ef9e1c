package memory

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Tier is a named durability class controlling a memory's expiration horizon.
type Tier string

const (
	TierShort     Tier = "short"     // 1 hour
	TierMedium    Tier = "medium"    // 7 days
	TierLong      Tier = "long"      // 90 days
	TierPermanent Tier = "permanent" // never expires
)

// Horizon returns the tier's expiration horizon. ok is false for
// TierPermanent, which never expires.
func (t Tier) Horizon() (d time.Duration, ok bool) {
	switch t {
	case TierShort:
		return time.Hour, true
	case TierMedium:
		return 7 * 24 * time.Hour, true
	case TierLong:
		return 90 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierShort, TierMedium, TierLong, TierPermanent:
		return true
	default:
		return false
	}
}

// Category classifies what kind of fact a memory is.
type Category string

const (
	CategoryFact         Category = "fact"
	CategoryPreference   Category = "preference"
	CategoryBehavior     Category = "behavior"
	CategoryInterest     Category = "interest"
	CategoryRelationship Category = "relationship"
	CategoryCustom       Category = "custom"
)

const (
	// ImportanceMin is the decay floor. Stored and projected importance
	// never drops below this.
	ImportanceMin = 0.1
	// ImportanceMax caps producer-supplied importance.
	ImportanceMax = 10.0
	// ImportanceDefault is used when a producer passes zero.
	ImportanceDefault = 5.0

	// DecayRatePerDay is the daily multiplicative decay applied at read
	// time by DecayedImportance. Stored importance is never mutated by it.
	DecayRatePerDay = 0.10

	// SourceActivitySummary marks memories produced by the activity
	// summarizer. They bypass activity-scope filtering during retrieval.
	SourceActivitySummary = "activity-summary"
)

// Memory is a durable fact learned about a user.
type Memory struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Text           string            `json:"text"`
	Tier           Tier              `json:"tier"`
	Category       Category          `json:"category"`
	Source         string            `json:"source"`
	Importance     float64           `json:"importance"` // [0.1, 10]
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	AccessCount    int               `json:"access_count"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"` // nil iff TierPermanent
	Deleted        bool              `json:"deleted"`
	ActivityID     string            `json:"activity_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Embedding      []float32         `json:"-"`
}

// Clone returns a deep copy. Read paths hand out clones so background
// sweeps never mutate a record a caller is holding.
func (m *Memory) Clone() *Memory {
	out := *m
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	if m.Embedding != nil {
		out.Embedding = append([]float32(nil), m.Embedding...)
	}
	return &out
}

// Expired reports whether the memory is past its expiration horizon.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// DecayedImportance projects a memory's effective importance at read time:
// importance * (1-DecayRatePerDay)^daysSinceCreation, floored at
// ImportanceMin. The stored value is left untouched.
func DecayedImportance(m *Memory, now time.Time) float64 {
	days := now.Sub(m.CreatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	v := m.Importance * math.Pow(1-DecayRatePerDay, days)
	if v < ImportanceMin {
		return ImportanceMin
	}
	return v
}

// ClampImportance forces v into [ImportanceMin, ImportanceMax]; zero maps
// to the default.
func ClampImportance(v float64) float64 {
	if v == 0 {
		return ImportanceDefault
	}
	if v < ImportanceMin {
		return ImportanceMin
	}
	if v > ImportanceMax {
		return ImportanceMax
	}
	return v
}

var (
	entropyMu sync.Mutex
	entropy   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewID returns a new ULID. ULIDs sort by creation time, which keeps
// id order consistent with the createdAt-descending read contracts.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Filter narrows a ListByUser read.
type Filter struct {
	// Tier restricts to one tier when non-empty.
	Tier Tier
	// Source restricts to one producer tag when non-empty.
	Source string
	// IncludeDeleted opts into soft-deleted records. Every read path
	// excludes them by default.
	IncludeDeleted bool
}

// Store is the document-oriented persistence backend for memories.
// Implementations: sqlite (durable), mem (in-process fallback and tests).
type Store interface {
	// Insert persists a new memory.
	Insert(ctx context.Context, m *Memory) error

	// Get returns the memory by id, or (nil, nil) when absent.
	// Soft-deleted records are returned; callers check Deleted.
	Get(ctx context.Context, id string) (*Memory, error)

	// Update overwrites the stored record. Returns false when absent.
	Update(ctx context.Context, m *Memory) (bool, error)

	// Delete removes the record permanently. Returns false when absent.
	Delete(ctx context.Context, id string) (bool, error)

	// ListByUser returns a user's memories matching the filter, in no
	// guaranteed order.
	ListByUser(ctx context.Context, userID string, f Filter) ([]*Memory, error)

	// CountByUser counts non-deleted memories for the user.
	CountByUser(ctx context.Context, userID string) (int, error)

	// ListExpired returns up to limit non-deleted memories whose
	// expiration is at or before now, across all users.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Memory, error)

	// Ping probes backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// IndexHit is a semantic index match.
type IndexHit struct {
	ID         string
	Similarity float32
}

// Index is the secondary semantic index mirrored alongside the primary
// store. Mirror writes are best-effort: the primary record is the source
// of truth and index failures are logged, never surfaced.
// Implementations: chromem (embedded), pgvector (production).
type Index interface {
	// Upsert inserts or replaces the index entry for m.
	Upsert(ctx context.Context, m *Memory) error

	// Remove drops the entry. Removing an absent entry is a no-op.
	Remove(ctx context.Context, userID, id string) error

	// Search returns the closest entries for the user by cosine
	// similarity, best first.
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]IndexHit, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to a vector. Kept abstract: the reference
// behavior ships a deterministic placeholder, and a real model can be
// swapped in without touching the store or retrieval pipeline.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
