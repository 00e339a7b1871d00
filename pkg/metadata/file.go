package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pipevision/pipevision/pkg/errors"
)

// FileStore is a file-based metadata store for CLI usage.
// Each project is stored as a JSON file in a directory.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStore creates a file-based store.
// If baseDir is empty, defaults to ~/.config/pipevision/metadata/
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		baseDir = filepath.Join(home, ".config", "pipevision", "metadata")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) recordPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID+".json")
}

// Get reads the project's record. A missing file yields version 0.
func (s *FileStore) Get(ctx context.Context, projectID string) (*Record, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(projectID)
}

// Update rewrites the project's file if the stored version matches.
func (s *FileStore) Update(ctx context.Context, projectID string, expectedVersion int64, mutate func(*Record) error) (*Record, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(projectID)
	if err != nil {
		return nil, err
	}
	next, err := Apply(projectID, current, expectedVersion, mutate)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	path := s.recordPath(projectID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return nil, fmt.Errorf("write metadata file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("replace metadata file: %w", err)
	}
	return next, nil
}

func (s *FileStore) read(projectID string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return New(projectID), nil
		}
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	r.ProjectID = projectID
	return &r, nil
}

// Close does nothing for the file store.
func (s *FileStore) Close() error { return nil }

// Path returns the base directory for metadata files.
func (s *FileStore) Path() string {
	return s.baseDir
}

var _ Store = (*FileStore)(nil)
