package secretstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the secret in a file readable only by its owner.
type FileStore struct {
	filePath string
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore, creating parent directories with 0700
// permissions if they don't exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("creating secret directory: %w", err)
	}

	return &FileStore{filePath: filePath}, nil
}

// Read returns the trimmed file contents. Refuses files that are group or
// world accessible.
func (f *FileStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(f.filePath)
	if err != nil {
		return "", err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, perm)
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", err
	}

	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("empty secret file %s", f.filePath)
	}
	return secret, nil
}

// Write replaces the file atomically (temp file + rename) with 0600 permissions.
func (f *FileStore) Write(ctx context.Context, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("refusing to write empty secret")
	}

	tempFile, err := os.CreateTemp(filepath.Dir(f.filePath), ".secret-*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if _, err := tempFile.WriteString(secret + "\n"); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tempName, f.filePath)
}
