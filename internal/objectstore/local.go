package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects under basePath/<bucket>/<key>.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates basePath if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) path(ref Ref) (string, error) {
	for _, part := range []string{ref.Bucket, ref.Key} {
		clean := filepath.Clean(part)
		if part == "" || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
			return "", fmt.Errorf("invalid path %q", ref.String())
		}
	}
	return filepath.Join(s.basePath, ref.Bucket, filepath.FromSlash(ref.Key)), nil
}

// Open opens the file behind ref.
func (s *LocalStore) Open(_ context.Context, ref Ref) (io.ReadCloser, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", ref, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Put writes data to the file behind ref, creating directories as needed.
func (s *LocalStore) Put(_ context.Context, ref Ref, data io.Reader, _ string) (Ref, error) {
	p, err := s.path(ref)
	if err != nil {
		return Ref{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Ref{}, fmt.Errorf("failed to create directory: %w", err)
	}

	dst, err := os.Create(p)
	if err != nil {
		return Ref{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		_ = os.Remove(p)
		return Ref{}, fmt.Errorf("failed to save file: %w", err)
	}
	return ref, nil
}
