// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to write artifacts to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name, e.g. "exports/".
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
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName maps an artifact path to the object name inside the bucket.
func (s *BlobStore) ObjectName(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// PutObject uploads r, replacing any existing object, and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	name := s.ObjectName(p)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
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
