// Package chromem provides the embedded semantic index on chromem-go.
// chromem-go is a pure Go, in-process vector database; each user gets
// their own collection for namespace isolation.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/companion-core/memory"
)

// Index is a chromem-go backed memory.Index.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an in-memory chromem index.
func New() (*Index, error) {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// NewPersistent creates a chromem index backed by a directory so
// embeddings survive restarts.
func NewPersistent(path string) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// getOrCreateCollection returns the collection for a user.
func (x *Index) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, exists := x.collections[userID]
	x.mu.RUnlock()
	if exists {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := x.collections[userID]; exists {
		return col, nil
	}

	name := fmt.Sprintf("user_%s", userID)
	col, err := x.db.CreateCollection(
		name,
		nil, // no collection metadata
		nil, // we supply embeddings, no embedding func
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[userID] = col
	return col, nil
}

// Upsert inserts or replaces the entry for m. The memory must carry an
// embedding.
func (x *Index) Upsert(ctx context.Context, m *memory.Memory) error {
	if len(m.Embedding) == 0 {
		return fmt.Errorf("upsert %s: memory has no embedding", m.ID)
	}
	col, err := x.getOrCreateCollection(m.UserID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        m.ID,
		Content:   m.Text,
		Embedding: m.Embedding,
		Metadata: map[string]string{
			"user_id": m.UserID,
			"tier":    string(m.Tier),
			"source":  m.Source,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Remove drops the entry for id. Unknown ids are a no-op.
func (x *Index) Remove(ctx context.Context, userID, id string) error {
	x.mu.RLock()
	col, exists := x.collections[userID]
	x.mu.RUnlock()
	if !exists {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Search returns the closest entries for the user, best first.
func (x *Index) Search(ctx context.Context, userID string, vector []float32, limit int) ([]memory.IndexHit, error) {
	x.mu.RLock()
	col, exists := x.collections[userID]
	x.mu.RUnlock()
	if !exists {
		return nil, nil
	}

	// chromem-go rejects nResults above the collection size.
	if n := col.Count(); limit > n {
		limit = n
	}
	if limit <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	hits := make([]memory.IndexHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, memory.IndexHit{ID: r.ID, Similarity: r.Similarity})
	}
	return hits, nil
}

// Close releases resources. chromem-go keeps everything in memory,
// nothing to flush.
func (x *Index) Close() error {
	return nil
}
