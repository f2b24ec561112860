package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Executor ExecutorConfig `mapstructure:"executor" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache"    validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"  validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
}

// ServerConfig contains the ops HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// ExecutorConfig controls the shared bounded worker pool.
type ExecutorConfig struct {
	// Workers is the fixed pool size. Zero means "derive from available
	// parallelism plus a small constant" (runtime.NumCPU()+4).
	Workers int `mapstructure:"workers" validate:"gte=0,lte=1024"`

	// QueueSize is the intake buffer. Submission blocks once it is full;
	// nothing is ever silently dropped.
	QueueSize int `mapstructure:"queue_size" validate:"gt=0"`
}

// QueueConfig controls the background fire-and-forget queue.
type QueueConfig struct {
	Workers   int `mapstructure:"workers"    validate:"gt=0"`
	QueueSize int `mapstructure:"queue_size" validate:"gt=0"`

	// ResultTTL bounds how long terminal job results are retained for
	// polling. Zero keeps results until explicitly discarded.
	ResultTTL time.Duration `mapstructure:"result_ttl" validate:"gte=0"`
}

// CacheConfig contains the tiered cache settings.
type CacheConfig struct {
	// RedisURL is the distributed tier address, e.g. redis://localhost:6379/0.
	// Empty disables the distributed tier; the cache degrades to local-only.
	RedisURL string `mapstructure:"redis_url"`

	// LocalTTL caps the process-local tier's entry lifetime. The local TTL
	// for a given entry is never longer than the distributed tier's TTL.
	LocalTTL time.Duration `mapstructure:"local_ttl" validate:"gte=0"`
}

// StorageConfig contains the object storage backend settings.
type StorageConfig struct {
	// S3Bucket names the primary remote backend's bucket. Empty disables
	// the remote backend so the selector goes straight to the filesystem.
	S3Bucket string `mapstructure:"s3_bucket"`

	// S3Region for the remote backend.
	S3Region string `mapstructure:"s3_region"`

	// S3Endpoint overrides the S3 endpoint (for S3-compatible stores).
	S3Endpoint string `mapstructure:"s3_endpoint"`

	// LocalDir is the filesystem fallback root.
	LocalDir string `mapstructure:"local_dir" validate:"required"`

	// ProbeTimeout bounds the capability probe against each backend.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
}

// DatabaseConfig contains the persistent origin store settings. Optional:
// the cache's third tier lives here and is only wired when a URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}
