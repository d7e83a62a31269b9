package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrTooLarge    = errors.New("file exceeds the transfer size limit")
)

// Store is the only disk access of the chat core: it serves requested files
// from a share directory and saves downloads into a download directory.
type Store struct {
	shareDir    string
	downloadDir string
	maxSize     int64
}

// NewStore creates a store. A maxSize of zero or less disables the limit.
func NewStore(shareDir, downloadDir string, maxSize int64) *Store {
	if shareDir == "" {
		shareDir = "."
	}
	if downloadDir == "" {
		downloadDir = "."
	}
	return &Store{shareDir: shareDir, downloadDir: downloadDir, maxSize: maxSize}
}

// resolve maps a requested name to a path inside the share directory.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", ErrInvalidName
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return filepath.Join(s.shareDir, clean), nil
}

// Exists reports whether name can be served.
func (s *Store) Exists(name string) bool {
	path, err := s.resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the contents of a shared file.
func (s *Store) Read(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInvalidName, name)
	}
	if s.maxSize > 0 && info.Size() > s.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, name, info.Size())
	}
	return os.ReadFile(path)
}

// Write saves a downloaded file under the base name of the requested name
// and returns the path written.
func (s *Store) Write(name string, data []byte) (string, error) {
	base := filepath.Base(filepath.Clean(filepath.FromSlash(name)))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if err := os.MkdirAll(s.downloadDir, 0700); err != nil {
		return "", err
	}
	path := filepath.Join(s.downloadDir, base)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}
