// Package sqlite implements the blob Store as a single SQLite table.
package sqlite

import (
	"bytes"
	"clinicflow/internal/blob/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	etag TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
)`

// Store persists values in the kv table of a SQLite database.
type Store struct {
	db    *sql.DB
	path  string
	nowFn func() time.Time
}

// New opens (or creates) the database at path and ensures the kv table exists.
func New(path string) (*Store, error) {
	if path == "" {
		path = "clinicflow.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &Store{db: db, path: path, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverSQLite }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	now := s.nowFn()
	etag := core.ETag(b)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key,value,content_type,etag,updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, content_type=excluded.content_type, etag=excluded.etag, updated_at=excluded.updated_at`,
		key, b, opts.ContentType, etag, now.UnixNano(),
	); err != nil {
		return core.Info{}, fmt.Errorf("upsert %s: %w", key, err)
	}
	return core.Info{Key: key, Size: int64(len(b)), ContentType: opts.ContentType, ETag: etag, LastModified: now}, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	var (
		value   []byte
		info    core.Info
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, content_type, etag, updated_at FROM kv WHERE key = ?`, key).
		Scan(&value, &info.ContentType, &info.ETag, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, nil, core.ErrNotFound
	}
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("select %s: %w", key, err)
	}
	info.Key = key
	info.Size = int64(len(value))
	info.LastModified = time.Unix(0, updated).UTC()
	return info, io.NopCloser(bytes.NewReader(value)), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	var (
		info    core.Info
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT length(value), content_type, etag, updated_at FROM kv WHERE key = ?`, key).
		Scan(&info.Size, &info.ContentType, &info.ETag, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, core.ErrNotFound
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("head %s: %w", key, err)
	}
	info.Key = key
	info.LastModified = time.Unix(0, updated).UTC()
	return info, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, length(value), content_type, etag, updated_at FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var infos []core.Info
	for rows.Next() {
		var (
			info    core.Info
			updated int64
		)
		if err := rows.Scan(&info.Key, &info.Size, &info.ContentType, &info.ETag, &updated); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if !strings.HasPrefix(info.Key, prefix) {
			continue
		}
		info.LastModified = time.Unix(0, updated).UTC()
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
