// Package snapshot persists probe images for after-the-fact audit. The
// matcher never touches storage; the ledger, as the caller, owns this.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store saves a probe image under a name and returns an opaque reference the
// attendance record carries.
type Store interface {
	Save(ctx context.Context, name string, image []byte) (string, error)
}

// FilesystemStore writes snapshots under a base directory.
type FilesystemStore struct {
	dir string
}

// NewFilesystemStore creates the base directory if needed.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FilesystemStore{dir: dir}, nil
}

func (s *FilesystemStore) Save(_ context.Context, name string, image []byte) (string, error) {
	// Names come from the ledger, but refuse traversal anyway.
	if strings.Contains(name, "..") || strings.ContainsRune(name, os.PathSeparator) {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return name, nil
}
