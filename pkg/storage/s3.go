package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MetaChecksum is the user metadata key holding the hex sha256 of an upload
const MetaChecksum = "checksum-sha256"

var s3Tracer = otel.Tracer("herohooks/storage")

// S3Client writes delivery archives to one bucket
type S3Client struct {
	client *s3.Client
	bucket string
	sse    types.ServerSideEncryption
}

// NewS3Client loads AWS config from the environment, applies the endpoint
// and credential overrides from cfg and, unless disabled, creates the bucket.
func NewS3Client(ctx context.Context, cfg Config) (*S3Client, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, awsLoadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	c := &S3Client{
		client: s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			}
			o.UsePathStyle = cfg.S3UsePathStyle
		}),
		bucket: cfg.S3Bucket,
		sse:    types.ServerSideEncryption(cfg.S3ServerSideEncryption),
	}

	if cfg.S3CreateBucket {
		if err := c.ensureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
		}
	}
	return c, nil
}

func awsLoadOptions(cfg Config) []func(*config.LoadOptions) error {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	// static keys for MinIO; otherwise the default chain applies
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	return opts
}

// Bucket is the archive bucket name
func (c *S3Client) Bucket() string {
	return c.bucket
}

// PutObject uploads content under key. The hex sha256 of the body is stored
// as MetaChecksum user metadata.
func (c *S3Client) PutObject(ctx context.Context, key string, content io.Reader, contentType string) error {
	ctx, span := c.startSpan(ctx, "PutObject",
		attribute.String("s3.key", key),
		attribute.String("content.type", contentType),
	)
	defer span.End()

	data, err := io.ReadAll(content)
	if err != nil {
		return spanError(span, fmt.Errorf("failed to read content: %w", err))
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	sum := sha256.Sum256(data)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{MetaChecksum: hex.EncodeToString(sum[:])},
	}
	if c.sse != "" {
		input.ServerSideEncryption = c.sse
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return spanError(span, fmt.Errorf("failed to upload to s3: %w", err))
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// HealthCheck reports whether the bucket is reachable with the configured
// credentials
func (c *S3Client) HealthCheck(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "HeadBucket")
	defer span.End()

	if err := c.headBucket(ctx); err != nil {
		return spanError(span, fmt.Errorf("s3 health check failed: %w", err))
	}
	return nil
}

func (c *S3Client) headBucket(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

func (c *S3Client) ensureBucket(ctx context.Context) error {
	if c.headBucket(ctx) == nil {
		return nil
	}

	_, err := c.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil || bucketExists(err) {
		return nil
	}
	return fmt.Errorf("failed to create bucket: %w", err)
}

func (c *S3Client) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("s3.operation", op),
		attribute.String("s3.bucket", c.bucket),
	)
	return s3Tracer.Start(ctx, "S3."+op, trace.WithAttributes(attrs...))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func bucketExists(err error) bool {
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	return errors.As(err, &exists) || errors.As(err, &owned)
}
