// Package postgres implements the blob Store as a single Postgres table.
package postgres

import (
	"bytes"
	"clinicflow/internal/blob/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/clinicflow?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const ensureTable = `CREATE TABLE IF NOT EXISTS clinicflow_kv (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	etag TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
)`

// Store persists values in the clinicflow_kv table.
type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

// New opens a Postgres-backed store using the provided DSN (falls back to defaultDSN),
// pings it and ensures the table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithDB(ctx, db)
}

// NewWithDB wraps an existing handle and ensures the table exists.
func NewWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, ensureTable); err != nil {
		return nil, fmt.Errorf("ensure kv table: %w", err)
	}
	return &Store{db: db, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverPostgres }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

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
		`INSERT INTO clinicflow_kv (key, value, content_type, etag, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, content_type = EXCLUDED.content_type, etag = EXCLUDED.etag, updated_at = EXCLUDED.updated_at`,
		key, b, opts.ContentType, etag, now,
	); err != nil {
		return core.Info{}, fmt.Errorf("upsert %s: %w", key, err)
	}
	return core.Info{Key: key, Size: int64(len(b)), ContentType: opts.ContentType, ETag: etag, LastModified: now}, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	var value []byte
	info := core.Info{Key: key}
	err := s.db.QueryRowContext(ctx, `SELECT value, content_type, etag, updated_at FROM clinicflow_kv WHERE key = $1`, key).
		Scan(&value, &info.ContentType, &info.ETag, &info.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, nil, core.ErrNotFound
	}
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("select %s: %w", key, err)
	}
	info.Size = int64(len(value))
	return info, io.NopCloser(bytes.NewReader(value)), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	info := core.Info{Key: key}
	err := s.db.QueryRowContext(ctx, `SELECT octet_length(value), content_type, etag, updated_at FROM clinicflow_kv WHERE key = $1`, key).
		Scan(&info.Size, &info.ContentType, &info.ETag, &info.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, core.ErrNotFound
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("head %s: %w", key, err)
	}
	return info, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clinicflow_kv WHERE key = $1`, key)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, octet_length(value), content_type, etag, updated_at FROM clinicflow_kv WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var infos []core.Info
	for rows.Next() {
		var info core.Info
		if err := rows.Scan(&info.Key, &info.Size, &info.ContentType, &info.ETag, &info.LastModified); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if strings.HasPrefix(info.Key, prefix) {
			infos = append(infos, info)
		}
	}
	return infos, rows.Err()
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
