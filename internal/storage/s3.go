package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Backend is the primary remote object store, backed by S3 or any
// S3-compatible endpoint.
type S3Backend struct {
	client *s3.S3
	bucket string
}

// S3Config holds the remote backend settings.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional override for S3-compatible stores
}

// NewS3Backend builds the backend from config. Credentials come from the
// standard AWS chain (env, shared config, instance role).
func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &S3Backend{
		client: s3.New(sess),
		bucket: cfg.Bucket,
	}, nil
}

// Name identifies the backend in logs.
func (b *S3Backend) Name() string {
	return "s3:" + b.bucket
}

// Probe checks the bucket is reachable and accessible.
func (b *S3Backend) Probe(ctx context.Context) error {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 probe failed for bucket %q: %w", b.bucket, err)
	}
	return nil
}

// Upload stores data under key and returns an s3:// locator.
func (b *S3Backend) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObjectWithContext(ctx, input); err != nil {
		return "", fmt.Errorf("s3 upload %q: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
}

// Download returns the object's bytes.
func (b *S3Backend) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 download %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 download %q: reading body: %w", key, err)
	}
	return data, nil
}

// Delete removes the object. S3 deletes are idempotent, so this reports
// true whenever the call succeeds.
func (b *S3Backend) Delete(ctx context.Context, key string) (bool, error) {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return true, nil
}

// List returns up to max entries under the prefix.
func (b *S3Backend) List(ctx context.Context, prefix string, max int) ([]Entry, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if max > 0 {
		input.MaxKeys = aws.Int64(int64(max))
	}

	out, err := b.client.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("s3 list %q: %w", prefix, err)
	}

	entries := make([]Entry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		entry := Entry{Key: aws.StringValue(obj.Key), Size: aws.Int64Value(obj.Size)}
		if obj.LastModified != nil {
			entry.LastModified = *obj.LastModified
		} else {
			entry.LastModified = time.Time{}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
