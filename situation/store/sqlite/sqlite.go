// Package sqlite provides the durable situation.Store on an embedded
// SQLite database (modernc.org/sqlite, no cgo).
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

	"github.com/becomeliminal/companion-core/situation"
)

// Store is a SQLite-backed situation.Store.
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

// NewFromDB wraps an existing handle.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS context_items (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		type       TEXT NOT NULL,
		duration   TEXT NOT NULL,
		data       TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		metadata   TEXT,
		active     INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		expires_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_context_user ON context_items(user_id, active);
	CREATE INDEX IF NOT EXISTS idx_context_expires ON context_items(expires_at, active);
	`
	_, err := s.db.Exec(schema)
	return err
}

const itemColumns = `id, user_id, type, duration, data, source, metadata, active, created_at, expires_at`

func (s *Store) Insert(ctx context.Context, it *situation.Item) error {
	data, meta, err := encodeItem(it)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.UserID, string(it.Type), string(it.Duration), data, it.Source, meta,
		boolToInt(it.Active), formatTime(it.CreatedAt), formatTimePtr(it.ExpiresAt),
	)
	return errors.Wrap(err, "insert context item")
}

func (s *Store) Get(ctx context.Context, id string) (*situation.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM context_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get context item")
	}
	return it, nil
}

func (s *Store) Update(ctx context.Context, it *situation.Item) (bool, error) {
	data, meta, err := encodeItem(it)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE context_items SET type = ?, duration = ?, data = ?, source = ?,
			metadata = ?, active = ?, expires_at = ?
		WHERE id = ?`,
		string(it.Type), string(it.Duration), data, it.Source, meta,
		boolToInt(it.Active), formatTimePtr(it.ExpiresAt), it.ID,
	)
	if err != nil {
		return false, errors.Wrap(err, "update context item")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM context_items WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete context item")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, f situation.Filter) ([]*situation.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM context_items WHERE user_id = ?`
	args := []any{userID}
	if f.Type != "" {
		q += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if !f.IncludeInactive {
		q += ` AND active = 1`
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list context items")
	}
	defer rows.Close()

	var out []*situation.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan context item")
		}
		out = append(out, it)
	}
	return out, errors.Wrap(rows.Err(), "list context items")
}

func (s *Store) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*situation.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM context_items
		WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?
		LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list expired context items")
	}
	defer rows.Close()

	var out []*situation.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan context item")
		}
		out = append(out, it)
	}
	return out, errors.Wrap(rows.Err(), "list expired context items")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (*situation.Item, error) {
	var (
		it              situation.Item
		typ, duration   string
		data            string
		meta            sql.NullString
		active          int
		created         string
		expires         sql.NullString
	)
	err := sc.Scan(&it.ID, &it.UserID, &typ, &duration, &data, &it.Source, &meta,
		&active, &created, &expires)
	if err != nil {
		return nil, err
	}
	it.Type = situation.Type(typ)
	it.Duration = situation.DurationTier(duration)
	it.Active = active != 0
	it.CreatedAt = parseTime(created)
	if expires.Valid {
		t := parseTime(expires.String)
		it.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(data), &it.Data); err != nil {
		return nil, errors.Wrap(err, "decode data")
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &it.Metadata); err != nil {
			return nil, errors.Wrap(err, "decode metadata")
		}
	}
	return &it, nil
}

func encodeItem(it *situation.Item) (data string, meta sql.NullString, err error) {
	b, merr := json.Marshal(it.Data)
	if merr != nil {
		return "", meta, errors.Wrap(merr, "encode data")
	}
	data = string(b)
	if len(it.Metadata) > 0 {
		mb, merr := json.Marshal(it.Metadata)
		if merr != nil {
			return "", meta, errors.Wrap(merr, "encode metadata")
		}
		meta = sql.NullString{String: string(mb), Valid: true}
	}
	return data, meta, nil
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
