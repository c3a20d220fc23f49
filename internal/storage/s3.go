// internal/storage/s3.go
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	defaultRegion = "us-east-1"
	// PresignTTL is the longest lifetime S3 accepts for a presigned URL.
	PresignTTL = 7 * 24 * time.Hour
)

var ErrEmptyObject = errors.New("object key and body are required")

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// S3Storage keeps screenshots in an S3-compatible bucket.
type S3Storage struct {
	client     *minio.Client
	bucket     string
	publicBase string

	mu    sync.Mutex
	ready bool
}

func NewS3Storage(cfg Config) (*S3Storage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: defaultRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &S3Storage{
		client:     client,
		bucket:     strings.TrimSpace(cfg.Bucket),
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// EnsureBucket creates the bucket when it is missing. Only success is remembered, so a
// failed check is repeated by the next call.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("ensure s3 bucket %q: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: defaultRegion}); err != nil {
			return fmt.Errorf("ensure s3 bucket %q: %w", s.bucket, err)
		}
	}
	s.ready = true
	return nil
}

// Upload stores data under key and returns a URL a moderator can open.
func (s *S3Storage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" || len(data) == 0 {
		return "", ErrEmptyObject
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object to s3: %w", err)
	}

	return s.ObjectURL(ctx, key)
}

// ObjectURL returns the public URL when a public base is configured, otherwise a
// presigned GET URL.
func (s *S3Storage) ObjectURL(ctx context.Context, key string) (string, error) {
	if s.publicBase != "" {
		return s.publicBase + "/" + strings.TrimLeft(key, "/"), nil
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, PresignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}
	return presigned.String(), nil
}
