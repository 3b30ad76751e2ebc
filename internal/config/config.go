// Package config loads clinicflow settings from CLINICFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/internal/persistence"
)

// Config holds application configuration.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
	StrictRules     bool
	StateKey        string
	MetricsEnabled  bool
	TraceJSON       bool
	Blob            blob.Config
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPAddr:        getEnv("CLINICFLOW_HTTP_ADDR", ":8080"),
		ShutdownTimeout: getEnvAsDuration("CLINICFLOW_SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        getEnv("CLINICFLOW_LOG_LEVEL", "info"),
		LogFormat:       strings.ToLower(getEnv("CLINICFLOW_LOG_FORMAT", "json")),
		StrictRules:     getEnvAsBool("CLINICFLOW_STRICT_RULES", false),
		StateKey:        getEnv("CLINICFLOW_STATE_KEY", persistence.StateKey),
		MetricsEnabled:  getEnvAsBool("CLINICFLOW_METRICS_ENABLED", true),
		TraceJSON:       getEnvAsBool("CLINICFLOW_TRACE_JSON", false),
		Blob: blob.Config{
			Driver:      blob.Driver(strings.ToLower(strings.TrimSpace(getEnv("CLINICFLOW_BLOB_DRIVER", string(blob.DriverFilesystem))))),
			FSRoot:      getEnv("CLINICFLOW_BLOB_FS_ROOT", "./data/state"),
			SQLitePath:  getEnv("CLINICFLOW_SQLITE_PATH", "./clinicflow.db"),
			PostgresDSN: getEnv("CLINICFLOW_POSTGRES_DSN", ""),
			S3: blob.S3Config{
				Region:          getEnv("CLINICFLOW_BLOB_S3_REGION", "us-east-1"),
				Bucket:          getEnv("CLINICFLOW_BLOB_S3_BUCKET", ""),
				Prefix:          getEnv("CLINICFLOW_BLOB_S3_PREFIX", ""),
				Endpoint:        getEnv("CLINICFLOW_BLOB_S3_ENDPOINT", ""),
				AccessKeyID:     getEnv("CLINICFLOW_BLOB_S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("CLINICFLOW_BLOB_S3_SECRET_ACCESS_KEY", ""),
				SessionToken:    getEnv("CLINICFLOW_BLOB_S3_SESSION_TOKEN", ""),
				PathStyle:       getEnvAsBool("CLINICFLOW_BLOB_S3_PATH_STYLE", false),
			},
			Redis: blob.RedisConfig{
				Addr:      getEnv("CLINICFLOW_REDIS_ADDR", "localhost:6379"),
				Password:  getEnv("CLINICFLOW_REDIS_PASSWORD", ""),
				DB:        getEnvAsInt("CLINICFLOW_REDIS_DB", 0),
				Namespace: getEnv("CLINICFLOW_REDIS_NAMESPACE", ""),
			},
			DynamoDB: blob.DynamoDBConfig{
				Table:    getEnv("CLINICFLOW_DYNAMODB_TABLE", ""),
				Region:   getEnv("CLINICFLOW_DYNAMODB_REGION", "us-east-1"),
				Endpoint: getEnv("CLINICFLOW_DYNAMODB_ENDPOINT", ""),
			},
		},
	}
}

// Validate reports settings that would fail at startup.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := blob.ParseDriver(string(c.Blob.Driver)); !ok {
		errs = append(errs, fmt.Errorf("CLINICFLOW_BLOB_DRIVER: unknown driver %q", c.Blob.Driver))
	}
	switch c.Blob.Driver {
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("CLINICFLOW_BLOB_S3_BUCKET is required for the s3 driver"))
		}
	case blob.DriverPostgres:
		if c.Blob.PostgresDSN == "" {
			errs = append(errs, errors.New("CLINICFLOW_POSTGRES_DSN is required for the postgres driver"))
		}
	case blob.DriverDynamoDB:
		if c.Blob.DynamoDB.Table == "" {
			errs = append(errs, errors.New("CLINICFLOW_DYNAMODB_TABLE is required for the dynamodb driver"))
		}
	}
	if strings.TrimSpace(c.StateKey) == "" {
		errs = append(errs, errors.New("CLINICFLOW_STATE_KEY must not be empty"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("CLINICFLOW_LOG_FORMAT: expected json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
