package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// MinioStore uploads artifacts to an S3-compatible bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioStore wraps a connected client. baseURL is the public prefix of the
// bucket, e.g. a CDN origin.
func NewMinioStore(client *minio.Client, bucket, baseURL string) (*MinioStore, error) {
	if client == nil {
		return nil, errors.New("storage: s3 client not initialized")
	}
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if baseURL == "" {
		baseURL = client.EndpointURL().String() + "/" + bucket
	}
	return &MinioStore{client: client, bucket: bucket, baseURL: baseURL}, nil
}

func (s *MinioStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	key, err := ContentKey(data, contentType)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("storage: s3 put object: %w", err)
	}
	return publicURL(s.baseURL, key), nil
}

var _ BlobStore = (*MinioStore)(nil)
