package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recalld/recalld/internal/model"
)

// SQLiteStore implements Store using SQLite. Writes go through transactions,
// so a concurrent reader sees either the old or the new complete state.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id         TEXT PRIMARY KEY,
		ns         TEXT NOT NULL,
		kind       TEXT NOT NULL DEFAULT 'summary',
		text       TEXT NOT NULL,
		tags       TEXT,
		created_at TEXT NOT NULL,
		source_ref TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_ns ON records(ns);
	CREATE INDEX IF NOT EXISTS idx_records_ns_kind ON records(ns, kind);
	CREATE INDEX IF NOT EXISTS idx_records_ns_created ON records(ns, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts a record, keyed by its content-derived ID. Re-inserting the same
// content is a no-op, which is what makes crash replay safe.
func (s *SQLiteStore) Put(ctx context.Context, rec model.MemoryRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = model.RecordID(rec.NS, rec.Kind, rec.Text)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var tagsJSON *string
	if len(rec.Tags) > 0 {
		b, _ := json.Marshal(rec.Tags)
		v := string(b)
		tagsJSON = &v
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, ns, kind, text, tags, created_at, source_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.NS, rec.Kind, rec.Text, tagsJSON,
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.SourceRef)
	if err != nil {
		return false, &model.DurabilityError{Op: "insert record", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, &model.DurabilityError{Op: "insert record", Err: err}
	}
	return n == 1, nil
}

// Get retrieves a record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ns, kind, text, tags, created_at, source_ref
		 FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Scan visits records newest first. The sequence is lazy (row-by-row) and
// restartable by calling Scan again.
func (s *SQLiteStore) Scan(ctx context.Context, ns string, fn func(model.MemoryRecord) bool) error {
	query := `SELECT id, ns, kind, text, tags, created_at, source_ref
	          FROM records`
	var args []interface{}
	if ns != "" {
		query += ` WHERE ns = ?`
		args = append(args, ns)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
	return rows.Err()
}

// Count returns the record count, optionally per namespace.
func (s *SQLiteStore) Count(ctx context.Context, ns string) (int, error) {
	var n int
	var err error
	if ns == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE ns = ?`, ns).Scan(&n)
	}
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (model.MemoryRecord, error) {
	var rec model.MemoryRecord
	var tagsJSON, sourceRef sql.NullString
	var createdAt string

	err := row.Scan(&rec.ID, &rec.NS, &rec.Kind, &rec.Text, &tagsJSON, &createdAt, &sourceRef)
	if err != nil {
		return rec, err
	}

	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &rec.Tags)
	}
	if sourceRef.Valid {
		rec.SourceRef = sourceRef.String
	}
	return rec, nil
}
