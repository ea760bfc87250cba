// Package storage keeps model artifacts and feature templates on disk,
// addressed by slash-separated keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelgate/backend/internal/retry"
	"go.uber.org/zap"
)

var (
	ErrInvalidKey = errors.New("invalid blob key")
	ErrNotFound   = errors.New("blob not found")
)

type DiskStore struct {
	root  string
	retry retry.Policy
	log   *zap.Logger
}

func NewDiskStore(root string, policy retry.Policy, log *zap.Logger) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DiskStore{root: abs, retry: policy, log: log}, nil
}

// path resolves key under root. Absolute keys and keys escaping root are
// rejected.
func (s *DiskStore) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrInvalidKey
		}
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return full, nil
}

// Put writes data under key, replacing any previous blob. The write goes to
// a temp file first so readers never see a partial blob.
func (s *DiskStore) Put(ctx context.Context, key string, data []byte) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}

	return s.retry.Do(ctx, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			return err
		}
		tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		if err := os.Rename(tmp.Name(), full); err != nil {
			s.log.Warn("blob rename failed", zap.String("key", key), zap.Error(err))
			return err
		}
		return nil
	})
}

func (s *DiskStore) Open(key string) (io.ReadCloser, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *DiskStore) Delete(key string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
