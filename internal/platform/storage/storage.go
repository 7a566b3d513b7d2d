// Package storage reads attachment documents and writes extraction results
// on an afero filesystem.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/store"
	"github.com/spf13/afero"
)

// ErrInvalidPath is returned for document paths that escape the root.
var ErrInvalidPath = errors.New("invalid document path")

// FileStorage implements task.DocumentStorage.
type FileStorage struct {
	fs           afero.Fs
	documentRoot string
	resultsDir   string
}

// NewFileStorage creates a FileStorage. Document paths are resolved under
// documentRoot; results are written to resultsDir.
func NewFileStorage(fs afero.Fs, documentRoot, resultsDir string) (*FileStorage, error) {
	if fs == nil {
		return nil, errors.New("filesystem cannot be nil")
	}
	if documentRoot == "" || resultsDir == "" {
		return nil, errors.New("document root and results dir are required")
	}
	return &FileStorage{fs: fs, documentRoot: documentRoot, resultsDir: resultsDir}, nil
}

// NewOSFileStorage creates a FileStorage on the local disk.
func NewOSFileStorage(documentRoot, resultsDir string) (*FileStorage, error) {
	return NewFileStorage(afero.NewOsFs(), documentRoot, resultsDir)
}

// ReadDocument returns the bytes of the document at the task's relative
// path. A missing file wraps store.ErrNotFound.
func (s *FileStorage) ReadDocument(ctx context.Context, docPath string) ([]byte, error) {
	full, err := s.resolve(docPath)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("document %s: %w", docPath, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", docPath, err)
	}
	return data, nil
}

// WriteResult stores data as <resultsDir>/<taskID>.json and returns that
// path. The file is written to a temporary name first and renamed into
// place so readers never see a partial result.
func (s *FileStorage) WriteResult(ctx context.Context, taskID uuid.UUID, data json.RawMessage) (string, error) {
	if err := s.fs.MkdirAll(s.resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results dir: %w", err)
	}

	final := filepath.Join(s.resultsDir, taskID.String()+".json")
	tmp := final + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("failed to move result into place: %w", err)
	}
	return final, nil
}

// ReadResult returns a previously written result.
func (s *FileStorage) ReadResult(resultPath string) (json.RawMessage, error) {
	data, err := afero.ReadFile(s.fs, resultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", resultPath, err)
	}
	return data, nil
}

func (s *FileStorage) resolve(docPath string) (string, error) {
	if docPath == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	slashed := filepath.ToSlash(docPath)
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %s", ErrInvalidPath, docPath)
		}
	}
	clean := path.Clean("/" + slashed)
	return filepath.Join(s.documentRoot, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
