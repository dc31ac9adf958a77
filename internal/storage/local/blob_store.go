// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory artifacts are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates the base directory when missing and verifies it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(base)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(base, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(base, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("close probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}
	return &BlobStore{baseDir: base}, nil
}

// PutObject streams r into baseDir/path, truncating any previous content, and
// returns a file:// URI. A failed copy may leave a partial file behind.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	fullPath := filepath.Join(s.baseDir, path)
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", errors.New("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	f, err := os.Create(fullPath) // #nosec G304 -- path is confined to baseDir above.
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	return "file://" + fullPath, nil
}
