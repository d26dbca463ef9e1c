// Package pgvector provides the production semantic index on PostgreSQL
// with the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/becomeliminal/companion-core/memory"
)

// Index is a pgvector-backed memory.Index.
type Index struct {
	db         *sql.DB
	dimensions int
}

// New connects to Postgres and ensures the vectors table exists.
// dimensions must match the configured embedder.
func New(dsn string, dimensions int) (*Index, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	x := &Index{db: db, dimensions: dimensions}
	if err := x.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

// NewFromDB wraps an existing handle.
func NewFromDB(db *sql.DB, dimensions int) (*Index, error) {
	x := &Index{db: db, dimensions: dimensions}
	if err := x.migrate(); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *Index) migrate() error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_vectors (
			id        TEXT PRIMARY KEY,
			user_id   TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, x.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_memory_vectors_user ON memory_vectors(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := x.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "migrate memory_vectors")
		}
	}
	return nil
}

func (x *Index) Upsert(ctx context.Context, m *memory.Memory) error {
	if len(m.Embedding) == 0 {
		return errors.Errorf("upsert %s: memory has no embedding", m.ID)
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO memory_vectors (id, user_id, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		m.ID, m.UserID, pgv.NewVector(m.Embedding))
	return errors.Wrap(err, "upsert vector")
}

func (x *Index) Remove(ctx context.Context, userID, id string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM memory_vectors WHERE id = $1 AND user_id = $2`, id, userID)
	return errors.Wrap(err, "remove vector")
}

// Search orders by cosine distance; similarity is 1-distance.
func (x *Index) Search(ctx context.Context, userID string, vector []float32, limit int) ([]memory.IndexHit, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT id, 1 - (embedding <=> $1) AS similarity
		FROM memory_vectors
		WHERE user_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgv.NewVector(vector), userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "vector search")
	}
	defer rows.Close()

	var hits []memory.IndexHit
	for rows.Next() {
		var h memory.IndexHit
		if err := rows.Scan(&h.ID, &h.Similarity); err != nil {
			return nil, errors.Wrap(err, "scan hit")
		}
		hits = append(hits, h)
	}
	return hits, errors.Wrap(rows.Err(), "vector search")
}

func (x *Index) Close() error {
	return x.db.Close()
}
