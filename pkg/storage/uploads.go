package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UploadStore persists assignment letters on disk under a base directory.
type UploadStore struct {
	baseDir      string
	maxSizeBytes int64
	allowedMIMEs map[string]struct{}
}

// NewUploadStore ensures the base directory exists and returns a handle.
func NewUploadStore(baseDir string, maxSizeBytes int64, allowedMIMEs []string) (*UploadStore, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	mimes := make(map[string]struct{}, len(allowedMIMEs))
	for _, m := range allowedMIMEs {
		mimes[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &UploadStore{baseDir: baseDir, maxSizeBytes: maxSizeBytes, allowedMIMEs: mimes}, nil
}

// Validate checks upload constraints before any bytes are written.
func (s *UploadStore) Validate(size int64, mimeType string) error {
	if s.maxSizeBytes > 0 && size > s.maxSizeBytes {
		return fmt.Errorf("file exceeds maximum size of %d bytes", s.maxSizeBytes)
	}
	if len(s.allowedMIMEs) > 0 {
		if _, ok := s.allowedMIMEs[strings.ToLower(mimeType)]; !ok {
			return fmt.Errorf("file type %q is not allowed", mimeType)
		}
	}
	return nil
}

// Save writes the given bytes under a generated unique name, keeping the
// original extension, and returns the stored name.
func (s *UploadStore) Save(originalName string, data []byte) (string, error) {
	if s.maxSizeBytes > 0 && int64(len(data)) > s.maxSizeBytes {
		return "", fmt.Errorf("file exceeds maximum size of %d bytes", s.maxSizeBytes)
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
	path := s.resolve(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return name, nil
}

// Open returns a read-only handle for the stored file.
func (s *UploadStore) Open(name string) (*os.File, error) {
	file, err := os.Open(s.resolve(name))
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file if present.
func (s *UploadStore) Delete(name string) error {
	if name == "" {
		return nil
	}
	if err := os.Remove(s.resolve(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete upload file: %w", err)
	}
	return nil
}

// Path exposes the underlying absolute path.
func (s *UploadStore) Path(name string) string {
	return s.resolve(name)
}

func (s *UploadStore) resolve(name string) string {
	// Stored names are always generated; strip any path components anyway.
	return filepath.Join(s.baseDir, filepath.Base(name))
}
