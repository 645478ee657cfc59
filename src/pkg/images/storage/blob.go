package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const tempDirName = ".tmp"

// LocalBlobStore implements BlobStore on a local directory.
type LocalBlobStore struct {
	root    string
	tempDir string
}

func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	root = filepath.Clean(root)
	tempDir := filepath.Join(root, tempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalBlobStore{
		root:    root,
		tempDir: tempDir,
	}, nil
}

// Root returns the directory blobs are stored in.
func (b *LocalBlobStore) Root() string {
	return b.root
}

// Resolve maps a blob path to its location on disk.
func (b *LocalBlobStore) Resolve(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	clean := filepath.Clean(path)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
		clean == tempDirName || strings.HasPrefix(clean, tempDirName+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(b.root, clean), nil
}

// Put writes data to a temporary file and hard-links it into place, so the
// blob appears complete or not at all and an occupied path is never replaced.
func (b *LocalBlobStore) Put(path string, data []byte) (retErr error) {
	filePath, pathErr := b.Resolve(path)
	if pathErr != nil {
		return pathErr
	}

	if _, statErr := os.Lstat(filePath); statErr == nil {
		return fmt.Errorf("blob %q: %w", path, ErrBlobExists)
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(filePath), 0755); mkdirErr != nil {
		return fmt.Errorf("failed to create blob directory: %w", mkdirErr)
	}

	tmpPath := filepath.Join(b.tempDir, uuid.NewString())
	file, createErr := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if createErr != nil {
		return fmt.Errorf("failed to create temp file: %w", createErr)
	}
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to remove temp blob", "path", tmpPath, "error", rmErr)
		}
	}()

	if _, writeErr := file.Write(data); writeErr != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write data: %w", writeErr)
	}
	if syncErr := file.Sync(); syncErr != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync data: %w", syncErr)
	}
	if closeErr := file.Close(); closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if linkErr := os.Link(tmpPath, filePath); linkErr != nil {
		if errors.Is(linkErr, os.ErrExist) {
			return fmt.Errorf("blob %q: %w", path, ErrBlobExists)
		}
		return fmt.Errorf("failed to commit blob: %w", linkErr)
	}
	return nil
}

func (b *LocalBlobStore) Get(path string) ([]byte, error) {
	filePath, pathErr := b.Resolve(path)
	if pathErr != nil {
		return nil, pathErr
	}

	data, readErr := os.ReadFile(filePath)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", path, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to read blob %q: %w", path, readErr)
	}
	return data, nil
}

// Delete removes the blob. Removing a missing blob is not an error.
func (b *LocalBlobStore) Delete(path string) error {
	filePath, pathErr := b.Resolve(path)
	if pathErr != nil {
		return pathErr
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove blob %q: %w", path, err)
	}
	return nil
}

func (b *LocalBlobStore) Exists(path string) (bool, error) {
	filePath, pathErr := b.Resolve(path)
	if pathErr != nil {
		return false, pathErr
	}

	info, statErr := os.Stat(filePath)
	if errors.Is(statErr, os.ErrNotExist) {
		return false, nil
	}
	if statErr != nil {
		return false, statErr
	}
	return info.Mode().IsRegular(), nil
}
