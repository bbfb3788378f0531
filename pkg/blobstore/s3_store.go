package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store using AWS S3. Logical blob paths map directly
// onto object keys under an optional key prefix.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string // Optional key prefix (e.g., "nest/")
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Store creates a new S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) key(blobPath string) string {
	return s.prefix + blobPath
}

func (s *S3Store) Put(ctx context.Context, blobPath string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(blobPath)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, blobPath string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(blobPath)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, blobPath)
		}
		return nil, fmt.Errorf("s3 get failed for %s: %w", blobPath, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

func (s *S3Store) Exists(ctx context.Context, blobPath string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(blobPath)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head failed for %s: %w", blobPath, err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, blobPath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(blobPath)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed for %s: %w", blobPath, err)
	}
	return nil
}
