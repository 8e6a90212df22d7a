// Package objectstore reads and writes uploaded videos and extracted frames.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrObjectNotFound is returned when a bucket/key pair does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Store is the object storage collaborator used by the pipeline stages.
type Store interface {
	// Open streams an object. Callers close the reader.
	Open(ctx context.Context, ref Ref) (io.ReadCloser, error)
	// Put writes data and returns the stored reference.
	Put(ctx context.Context, ref Ref, data io.Reader, contentType string) (Ref, error)
}

// Ref addresses one object. Its string form "bucket/key" is what frame
// references persist as their location.
type Ref struct {
	Bucket string
	Key    string
}

// String renders the reference as "bucket/key".
func (r Ref) String() string {
	return r.Bucket + "/" + r.Key
}

// ParseRef parses a "bucket/key" location. A "gs://" prefix is accepted.
func ParseRef(location string) (Ref, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(location), "gs://")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return Ref{}, fmt.Errorf("invalid object location %q", location)
	}
	return Ref{Bucket: bucket, Key: key}, nil
}

// ReadAll fetches an entire object.
func ReadAll(ctx context.Context, s Store, ref Ref) ([]byte, error) {
	rc, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	return data, nil
}
