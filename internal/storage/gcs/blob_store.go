// Package gcs stores debug snapshots in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object key for p, including the configured prefix.
func (s *BlobStore) ObjectName(p string) string {
	p = strings.TrimLeft(p, "/")
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// PutObject uploads data and returns a gs:// URI. Snapshots are private
// debugging material, so objects are written without caching headers.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := s.ObjectName(p)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.CacheControl = "no-store"
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
