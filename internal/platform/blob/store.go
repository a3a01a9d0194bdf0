// Package blob stores rendered export artifacts and hands out download references.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a reference does not resolve to stored content.
var ErrNotFound = errors.New("blob: not found")

// Store persists artifact bytes. Put returns the download reference for key.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

const fsScheme = "file://"

// FSStore keeps artifacts below a root directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory when missing.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob: storage dir required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("blob: create storage dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Put writes data atomically through a temp file and rename.
func (s *FSStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("blob: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("blob: rename: %w", err)
	}
	return fsScheme + key, nil
}

// Get reads the artifact behind ref.
func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ref, fsScheme) {
		return nil, fmt.Errorf("blob: unsupported reference %q", ref)
	}
	path, err := s.resolve(strings.TrimPrefix(ref, fsScheme))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: read: %w", err)
	}
	return data, nil
}

func (s *FSStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", errors.New("blob: empty key")
	}
	return filepath.Join(s.root, clean), nil
}
