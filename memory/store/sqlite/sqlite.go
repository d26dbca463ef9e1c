// Package sqlite provides the durable memory.Store on an embedded SQLite
// database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/becomeliminal/companion-core/memory"
)

// Store is a SQLite-backed memory.Store.
type Store struct {
	db *sql.DB
}

// New opens or creates the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create db dir")
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return s, nil
}

// NewFromDB wraps an existing handle. Used by tests and by callers sharing
// one database file across stores.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		text             TEXT NOT NULL,
		tier             TEXT NOT NULL,
		category         TEXT NOT NULL DEFAULT 'fact',
		source           TEXT NOT NULL DEFAULT '',
		importance       REAL NOT NULL DEFAULT 5,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		access_count     INTEGER NOT NULL DEFAULT 0,
		expires_at       TEXT,
		deleted          INTEGER NOT NULL DEFAULT 0,
		activity_id      TEXT NOT NULL DEFAULT '',
		metadata         TEXT,
		embedding        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, deleted);
	CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const memoryColumns = `id, user_id, text, tier, category, source, importance,
	created_at, last_accessed_at, access_count, expires_at, deleted, activity_id, metadata, embedding`

func (s *Store) Insert(ctx context.Context, m *memory.Memory) error {
	meta, emb, err := encodeBags(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Text, string(m.Tier), string(m.Category), m.Source, m.Importance,
		formatTime(m.CreatedAt), formatTime(m.LastAccessedAt), m.AccessCount,
		formatTimePtr(m.ExpiresAt), boolToInt(m.Deleted), m.ActivityID, meta, emb,
	)
	return errors.Wrap(err, "insert memory")
}

func (s *Store) Get(ctx context.Context, id string) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get memory")
	}
	return m, nil
}

func (s *Store) Update(ctx context.Context, m *memory.Memory) (bool, error) {
	meta, emb, err := encodeBags(m)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET text = ?, tier = ?, category = ?, source = ?, importance = ?,
			last_accessed_at = ?, access_count = ?, expires_at = ?, deleted = ?,
			activity_id = ?, metadata = ?, embedding = ?
		WHERE id = ?`,
		m.Text, string(m.Tier), string(m.Category), m.Source, m.Importance,
		formatTime(m.LastAccessedAt), m.AccessCount, formatTimePtr(m.ExpiresAt),
		boolToInt(m.Deleted), m.ActivityID, meta, emb, m.ID,
	)
	if err != nil {
		return false, errors.Wrap(err, "update memory")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete memory")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, f memory.Filter) ([]*memory.Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ?`
	args := []any{userID}
	if !f.IncludeDeleted {
		q += ` AND deleted = 0`
	}
	if f.Tier != "" {
		q += ` AND tier = ?`
		args = append(args, string(f.Tier))
	}
	if f.Source != "" {
		q += ` AND source = ?`
		args = append(args, f.Source)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list memories")
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan memory")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "list memories")
}

func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = ? AND deleted = 0`, userID).Scan(&n)
	return n, errors.Wrap(err, "count memories")
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE deleted = 0 AND expires_at IS NOT NULL AND expires_at <= ?
		LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list expired")
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan memory")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "list expired")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(sc scanner) (*memory.Memory, error) {
	var (
		m              memory.Memory
		tier, category string
		created, accessed string
		expires        sql.NullString
		deleted        int
		meta, emb      sql.NullString
	)
	err := sc.Scan(&m.ID, &m.UserID, &m.Text, &tier, &category, &m.Source, &m.Importance,
		&created, &accessed, &m.AccessCount, &expires, &deleted, &m.ActivityID, &meta, &emb)
	if err != nil {
		return nil, err
	}
	m.Tier = memory.Tier(tier)
	m.Category = memory.Category(category)
	m.CreatedAt = parseTime(created)
	m.LastAccessedAt = parseTime(accessed)
	m.Deleted = deleted != 0
	if expires.Valid {
		t := parseTime(expires.String)
		m.ExpiresAt = &t
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			return nil, errors.Wrap(err, "decode metadata")
		}
	}
	if emb.Valid && emb.String != "" {
		if err := json.Unmarshal([]byte(emb.String), &m.Embedding); err != nil {
			return nil, errors.Wrap(err, "decode embedding")
		}
	}
	return &m, nil
}

func encodeBags(m *memory.Memory) (meta, emb sql.NullString, err error) {
	if len(m.Metadata) > 0 {
		b, merr := json.Marshal(m.Metadata)
		if merr != nil {
			return meta, emb, errors.Wrap(merr, "encode metadata")
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	if len(m.Embedding) > 0 {
		b, merr := json.Marshal(m.Embedding)
		if merr != nil {
			return meta, emb, errors.Wrap(merr, "encode embedding")
		}
		emb = sql.NullString{String: string(b), Valid: true}
	}
	return meta, emb, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
