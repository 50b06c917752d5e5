package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"card-market-tracker/src/models"
)

// JSONFileBackend keeps the whole log in one JSON document
// {entity_id: [snapshot...]} and rewrites it atomically on every save.
type JSONFileBackend struct {
	Path string

	mu   sync.RWMutex
	data map[string][]models.MSnapshot
}

// -----------------------------------------------------------------------------

// NewJSONFileBackend loads path if it exists; a missing file is an empty log.
func NewJSONFileBackend(path string) (*JSONFileBackend, error) {
	b := &JSONFileBackend{
		Path: path,
		data: make(map[string][]models.MSnapshot),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history file '%s': %w", path, err)
	}
	if len(raw) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b.data); err != nil {
		return nil, fmt.Errorf("failed to parse history file '%s': %w", path, err)
	}
	return b, nil
}

// -----------------------------------------------------------------------------

func (b *JSONFileBackend) LoadEntity(entityID string) ([]models.MSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	src := b.data[entityID]
	out := make([]models.MSnapshot, len(src))
	copy(out, src)
	return out, nil
}

// -----------------------------------------------------------------------------

// SaveEntity only updates memory once the new file is in place.
func (b *JSONFileBackend) SaveEntity(entityID string, snapshots []models.MSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string][]models.MSnapshot, len(b.data)+1)
	for k, v := range b.data {
		next[k] = v
	}
	stored := make([]models.MSnapshot, len(snapshots))
	copy(stored, snapshots)
	next[entityID] = stored

	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := writeFileAtomic(b.Path, raw); err != nil {
		return fmt.Errorf("failed to write history file '%s': %w", b.Path, err)
	}

	b.data = next
	return nil
}

// -----------------------------------------------------------------------------

func (b *JSONFileBackend) EntityIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.data))
	for id := range b.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// -----------------------------------------------------------------------------

func (b *JSONFileBackend) Close() error {
	return nil
}
