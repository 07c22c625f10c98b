package storage

import "time"

// Config for the Postgres, Redis and S3 backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	// S3ServerSideEncryption is sent with every upload, e.g. "AES256" or "aws:kms"
	S3ServerSideEncryption string
	// S3CreateBucket creates a missing bucket on startup. Turn off when the
	// credentials cannot create buckets.
	S3CreateBucket bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		RedisDB:             -1,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		S3Region:            "us-east-1",
		S3CreateBucket:      true,
	}
}
