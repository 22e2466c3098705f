package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a ref does not exist in the store.
var ErrNotFound = errors.New("artifact not found")

// Store holds source documents and produced audio artifacts. Implementations
// hand out opaque refs; callers never see paths.
type Store interface {
	Store(data []byte, ext string) (string, error)
	Fetch(ref string) ([]byte, error)
	Delete(ref string) error
}

// DiskStore keeps artifacts as flat files under a base directory.
type DiskStore struct {
	base string
}

// NewDiskStore creates the base directory if needed.
func NewDiskStore(base string) (*DiskStore, error) {
	if base == "" {
		return nil, errors.New("base directory required")
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &DiskStore{base: base}, nil
}

// Store writes the bytes under a fresh ref and returns it.
func (s *DiskStore) Store(data []byte, ext string) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ref := uuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(s.base, ref), data, 0644); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return ref, nil
}

// Fetch reads the artifact back.
func (s *DiskStore) Fetch(ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch artifact %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes the artifact. Deleting a missing ref is not an error.
func (s *DiskStore) Delete(ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact %s: %w", ref, err)
	}
	return nil
}

// path rejects refs that try to escape the base directory.
func (s *DiskStore) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("invalid artifact ref %q", ref)
	}
	return filepath.Join(s.base, ref), nil
}
