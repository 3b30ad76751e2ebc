// Package redis implements the blob Store on redis hashes.
package redis

import (
	"bytes"
	"clinicflow/internal/blob/core"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultNamespace prefixes every redis key the store writes.
const DefaultNamespace = "clinicflow:kv:"

const (
	fieldValue       = "value"
	fieldContentType = "content_type"
	fieldETag        = "etag"
	fieldUpdatedAt   = "updated_at"
)

// Config holds connection parameters.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Store keeps one redis hash per key holding the value and its metadata.
type Store struct {
	client    *redis.Client
	tracer    trace.Tracer
	namespace string
	nowFn     func() time.Time
}

// New dials redis using cfg and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewWithClient(client, nil, cfg.Namespace), nil
}

// NewWithClient wraps an existing client. A nil tracer uses the global provider.
func NewWithClient(client *redis.Client, tracer trace.Tracer, namespace string) *Store {
	if client == nil {
		panic("redis blob store: client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("clinicflow.internal.infra.blob.redis")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{client: client, tracer: tracer, namespace: namespace, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Driver() core.Driver { return core.DriverRedis }

// Close releases the client connection pool.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) redisKey(key string) string { return s.namespace + key }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	ctx, span := s.tracer.Start(ctx, "blob.redis.put")
	defer span.End()

	b, err := io.ReadAll(r)
	if err != nil {
		span.RecordError(err)
		return core.Info{}, err
	}
	now := s.nowFn()
	etag := core.ETag(b)
	if err := s.client.HSet(ctx, s.redisKey(key),
		fieldValue, b,
		fieldContentType, opts.ContentType,
		fieldETag, etag,
		fieldUpdatedAt, now.UnixNano(),
	).Err(); err != nil {
		span.RecordError(err)
		return core.Info{}, fmt.Errorf("redis: failed to persist %s: %w", key, err)
	}
	return core.Info{Key: key, Size: int64(len(b)), ContentType: opts.ContentType, ETag: etag, LastModified: now}, nil
}

func (s *Store) load(ctx context.Context, key string) (core.Info, []byte, error) {
	fields, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return core.Info{}, nil, fmt.Errorf("redis: failed to load %s: %w", key, err)
	}
	value, ok := fields[fieldValue]
	if !ok {
		return core.Info{}, nil, core.ErrNotFound
	}
	return infoFromFields(key, fields), []byte(value), nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	ctx, span := s.tracer.Start(ctx, "blob.redis.get")
	defer span.End()

	info, value, err := s.load(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			span.RecordError(err)
		}
		return core.Info{}, nil, err
	}
	return info, io.NopCloser(bytes.NewReader(value)), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	ctx, span := s.tracer.Start(ctx, "blob.redis.head")
	defer span.End()

	info, _, err := s.load(ctx, key)
	return info, err
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "blob.redis.delete")
	defer span.End()

	n, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("redis: failed to delete %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	ctx, span := s.tracer.Start(ctx, "blob.redis.list")
	defer span.End()

	var infos []core.Info
	iter := s.client.Scan(ctx, 0, s.namespace+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), s.namespace)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		info, _, err := s.load(ctx, key)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("redis: scan: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func infoFromFields(key string, fields map[string]string) core.Info {
	info := core.Info{
		Key:         key,
		Size:        int64(len(fields[fieldValue])),
		ContentType: fields[fieldContentType],
		ETag:        fields[fieldETag],
	}
	if ns, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64); err == nil {
		info.LastModified = time.Unix(0, ns).UTC()
	}
	return info
}
