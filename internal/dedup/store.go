package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ordo/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS canonical (
	hash       TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	size       INTEGER NOT NULL,
	mtime      INTEGER NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_canonical_path ON canonical(path);
`

// CanonicalStore persists canonical records across runs.
// Consumers depend on this interface rather than the concrete *DB.
type CanonicalStore interface {
	// Lookup returns the record for hash, or apperr.ErrNotFound.
	// Records whose file vanished or changed are dropped and reported as not found.
	Lookup(ctx context.Context, hash string) (Record, error)
	Put(ctx context.Context, rec Record) error
	ForgetPath(ctx context.Context, path string) error
	Close() error
}

// Verify *DB satisfies CanonicalStore at compile time.
var _ CanonicalStore = (*DB)(nil)

// DB is the SQLite-backed CanonicalStore.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("dedup: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dedup: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dedup: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Lookup(ctx context.Context, hash string) (Record, error) {
	var (
		rec   Record
		mtime int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT hash, path, size, mtime, session_id FROM canonical WHERE hash = ?`, hash,
	).Scan(&rec.Hash, &rec.Path, &rec.Size, &mtime, &rec.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("dedup: lookup: %w", err)
	}
	rec.ModTime = time.Unix(0, mtime)

	if !unchanged(rec) {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM canonical WHERE hash = ?`, hash); err != nil {
			return Record{}, fmt.Errorf("dedup: drop stale: %w", err)
		}
		return Record{}, apperr.ErrNotFound
	}
	return rec, nil
}

func (db *DB) Put(ctx context.Context, rec Record) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO canonical (hash, path, size, mtime, session_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			path       = excluded.path,
			size       = excluded.size,
			mtime      = excluded.mtime,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`, rec.Hash, rec.Path, rec.Size, rec.ModTime.UnixNano(), rec.SessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("dedup: put: %w", err)
	}
	return nil
}

func (db *DB) ForgetPath(ctx context.Context, path string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM canonical WHERE path = ?`, path); err != nil {
		return fmt.Errorf("dedup: forget: %w", err)
	}
	return nil
}
