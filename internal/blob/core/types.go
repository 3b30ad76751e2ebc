// Package core defines the key-value byte store abstraction that backs
// state persistence. Backends live under internal/infra/blob.
package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3"
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory"
	// DriverSQLite stores values in a single sqlite table.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres stores values in a single postgres table.
	DriverPostgres Driver = "postgres"
	// DriverRedis stores values as redis strings.
	DriverRedis Driver = "redis"
	// DriverDynamoDB stores values as items in one DynamoDB table.
	DriverDynamoDB Driver = "dynamodb"
)

// Drivers lists every supported driver.
var Drivers = []Driver{DriverFilesystem, DriverS3, DriverMemory, DriverSQLite, DriverPostgres, DriverRedis, DriverDynamoDB}

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string // MIME type, optional
}

// Info describes a stored value.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is a string-keyed byte store. Put replaces any existing value.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete returns (false, nil) if the key was absent.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns keys with the given prefix ordered ascending.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrNotFound is returned by Get and Head when the key is absent.
	ErrNotFound = errors.New("blobstore: key not found")
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
)

// ETag returns the content hash backends report for a value.
func ETag(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ReadAll fetches the value stored at key.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	_, rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
