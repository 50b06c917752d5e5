package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"card-market-tracker/src/models"
)

// FileRunStatusStore persists the latest run-status artifact as a JSON file
// that operational tooling polls.
type FileRunStatusStore struct {
	Path string
	mu   sync.Mutex
}

// -----------------------------------------------------------------------------

func NewFileRunStatusStore(path string) *FileRunStatusStore {
	return &FileRunStatusStore{Path: path}
}

// -----------------------------------------------------------------------------

func (s *FileRunStatusStore) SaveRun(run *models.MRefreshRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run status: %w", err)
	}
	if err := writeFileAtomic(s.Path, raw); err != nil {
		return fmt.Errorf("failed to write run status '%s': %w", s.Path, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *FileRunStatusStore) LoadLastRun() (*models.MRefreshRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run status '%s': %w", s.Path, err)
	}

	var run models.MRefreshRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run status '%s': %w", s.Path, err)
	}
	return &run, nil
}
