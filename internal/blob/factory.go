package blob

import (
	"context"
	"fmt"

	dynamoblob "clinicflow/internal/infra/blob/dynamodb"
	fsblob "clinicflow/internal/infra/blob/fs"
	memoryblob "clinicflow/internal/infra/blob/memory"
	postgresblob "clinicflow/internal/infra/blob/postgres"
	redisblob "clinicflow/internal/infra/blob/redis"
	s3blob "clinicflow/internal/infra/blob/s3"
	sqliteblob "clinicflow/internal/infra/blob/sqlite"
)

type (
	// S3Config configures the s3 driver.
	S3Config = s3blob.Config
	// RedisConfig configures the redis driver.
	RedisConfig = redisblob.Config
	// DynamoDBConfig configures the dynamodb driver.
	DynamoDBConfig = dynamoblob.Config
)

// Config selects and configures one backend. Only the section matching
// Driver is read.
type Config struct {
	Driver      Driver
	FSRoot      string
	SQLitePath  string
	PostgresDSN string
	S3          S3Config
	Redis       RedisConfig
	DynamoDB    DynamoDBConfig
}

// Open constructs the backend named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return sqliteblob.New(cfg.SQLitePath)
	case DriverPostgres:
		return postgresblob.New(ctx, cfg.PostgresDSN)
	case DriverS3:
		return s3blob.New(ctx, cfg.S3)
	case DriverRedis:
		return redisblob.New(ctx, cfg.Redis)
	case DriverDynamoDB:
		return dynamoblob.New(ctx, cfg.DynamoDB)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory blob.Store suitable for tests.
func NewMemory() Store { return memoryblob.New() }

// NewFilesystem constructs a filesystem-backed blob.Store rooted at the provided path.
func NewFilesystem(root string) (Store, error) {
	return fsblob.New(root)
}

// NewMockS3ForTests exposes the in-memory S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return s3blob.NewMockForTests() }

// Close releases backend resources when the store holds any.
func Close(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
