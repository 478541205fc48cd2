// Package local implements the storage backend on a local filesystem
// directory, mainly for development and tests.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pgward/internal/storage"
)

// Ensure Backend implements storage.Backend at compile time.
var _ storage.Backend = (*Backend)(nil)

// Backend stores backup objects as files under a base directory.
type Backend struct {
	basePath string
}

// New creates a local storage backend rooted at basePath.
func New(basePath string) *Backend {
	return &Backend{basePath: basePath}
}

func (b *Backend) Type() string {
	return "local"
}

// EnsureBucket creates the base directory if it does not exist.
func (b *Backend) EnsureBucket(ctx context.Context) error {
	if err := os.MkdirAll(b.basePath, 0755); err != nil {
		return fmt.Errorf("local: failed to create directory %s: %w", b.basePath, err)
	}
	return nil
}

// Put copies the file at localPath to <basePath>/<name>.
func (b *Backend) Put(ctx context.Context, name, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("local: failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(b.basePath, 0755); err != nil {
		return fmt.Errorf("local: failed to create directory %s: %w", b.basePath, err)
	}

	dest := filepath.Join(b.basePath, name)
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("local: failed to create %s: %w", dest, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, src); err != nil {
		// Clean up partial file
		os.Remove(dest)
		return fmt.Errorf("local: failed to write %s: %w", dest, err)
	}
	return nil
}

// Get copies the object file <basePath>/<name> to localPath.
func (b *Backend) Get(ctx context.Context, name, localPath string) error {
	src, err := os.Open(filepath.Join(b.basePath, name))
	if err != nil {
		return fmt.Errorf("local: backup not found: %w", err)
	}
	defer src.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("local: failed to create %s: %w", localPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, src); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("local: failed to write %s: %w", localPath, err)
	}
	return nil
}

// List returns every file whose name starts with prefix.
func (b *Backend) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	entries, err := os.ReadDir(b.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("local: failed to list directory %s: %w", b.basePath, err)
	}

	var objects []storage.Object
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		objects = append(objects, storage.Object{
			Name: entry.Name(),
			Size: info.Size(),
		})
	}
	return objects, nil
}
