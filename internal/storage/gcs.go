package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/maincase/mdesign-backend/internal/domain"
)

// GCSStore persists image blobs in a Google Cloud Storage bucket under the
// interiors/ prefix, the production object store.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCS-backed store. credentialsFile may be empty, in
// which case application default credentials apply.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("storage: bucket name is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: "interiors/"}, nil
}

// Put writes the blob under interiors/<name>. GCS object writes are atomic
// and keyed by name, so re-storing an already-stored image is harmless.
func (s *GCSStore) Put(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.prefix + name).NewWriter(ctx)
	if ct := contentTypeForName(name); ct != "" {
		w.ContentType = ct
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write gcs object %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: close gcs writer for %q: %w", name, err)
	}
	return nil
}

// PublicURL returns the public object URL; the bucket is publicly readable.
func (s *GCSStore) PublicURL(name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s%s", s.bucket, s.prefix, name)
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func contentTypeForName(name string) string {
	switch {
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".jpg"), strings.HasSuffix(name, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(name, ".webp"):
		return "image/webp"
	default:
		return ""
	}
}

var _ domain.ObjectStore = (*GCSStore)(nil)
