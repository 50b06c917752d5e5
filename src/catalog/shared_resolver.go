package catalog

import (
	"sync"

	"card-market-tracker/src/models"
)

// SharedResolver is handed to collectors at wiring time; the orchestrator
// swaps in the resolver of each run's freshly loaded catalog.
type SharedResolver struct {
	mu       sync.RWMutex
	resolver *Resolver
}

// -----------------------------------------------------------------------------

func NewSharedResolver() *SharedResolver {
	return &SharedResolver{}
}

// -----------------------------------------------------------------------------

// Update rebuilds the index; on error the previous catalog stays in place.
func (s *SharedResolver) Update(entities []models.MEntity) error {
	r, err := NewResolver(entities)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.resolver = r
	s.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

func (s *SharedResolver) Resolve(rawLabel string) (string, bool) {
	s.mu.RLock()
	r := s.resolver
	s.mu.RUnlock()
	if r == nil {
		return "", false
	}
	return r.Resolve(rawLabel)
}

// -----------------------------------------------------------------------------

func (s *SharedResolver) Entities() []models.MEntity {
	s.mu.RLock()
	r := s.resolver
	s.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.Entities()
}
