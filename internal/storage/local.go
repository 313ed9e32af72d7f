// Package storage persists uploaded files for file and image columns.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrTooLarge = errors.New("upload exceeds maximum file size")

// Upload is one file submitted for a column.
type Upload struct {
	Filename string
	Reader   io.Reader
}

// LocalUploader stores uploads under basePath/<table>/<uuid>/<filename>.
type LocalUploader struct {
	basePath string
	maxSize  int64
}

// NewLocalUploader creates an uploader. maxSize <= 0 disables the size check.
func NewLocalUploader(basePath string, maxSize int64) *LocalUploader {
	return &LocalUploader{basePath: basePath, maxSize: maxSize}
}

// Store writes the upload and returns its path relative to the base path.
func (s *LocalUploader) Store(_ context.Context, table, field string, up Upload) (string, error) {
	name := sanitizeFilename(up.Filename)
	if name == "" {
		return "", fmt.Errorf("%s: empty filename", field)
	}

	rel := filepath.Join(table, uuid.New().String(), name)
	full := filepath.Join(s.basePath, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	reader := up.Reader
	if s.maxSize > 0 {
		reader = io.LimitReader(up.Reader, s.maxSize+1)
	}
	n, err := io.Copy(f, reader)
	if err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("write file: %w", err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		f.Close()
		_ = s.Delete(context.Background(), rel)
		return "", fmt.Errorf("%s: %w", field, ErrTooLarge)
	}

	return filepath.ToSlash(rel), nil
}

func (s *LocalUploader) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.basePath, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored upload and its directory if left empty.
func (s *LocalUploader) Delete(_ context.Context, path string) error {
	full := filepath.Join(s.basePath, filepath.FromSlash(path))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	_ = os.Remove(filepath.Dir(full))
	return nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
