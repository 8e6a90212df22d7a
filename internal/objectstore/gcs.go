package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore is a Store backed by Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a client using application default credentials plus opts.
func NewGCSStore(ctx context.Context, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Open streams the object at ref.
func (s *GCSStore) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	r, err := s.client.Bucket(ref.Bucket).Object(ref.Key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", ref, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", ref, err)
	}
	return r, nil
}

// Put uploads data to ref.
func (s *GCSStore) Put(ctx context.Context, ref Ref, data io.Reader, contentType string) (Ref, error) {
	w := s.client.Bucket(ref.Bucket).Object(ref.Key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return Ref{}, fmt.Errorf("failed to upload %s: %w", ref, err)
	}
	if err := w.Close(); err != nil {
		return Ref{}, fmt.Errorf("failed to finalize %s: %w", ref, err)
	}
	return ref, nil
}
