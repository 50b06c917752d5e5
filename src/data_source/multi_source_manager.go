package datasource

import (
	"context"
	"fmt"
	"sync"

	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
)

// MultiSourceManager is the ordered registry of collectors; the order is the
// phase order of a refresh run.
type MultiSourceManager struct {
	sources []interfaces.ICollector
	Logger  *logger.Logger
	mu      sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMultiSourceManager(sources []interfaces.ICollector, log *logger.Logger) *MultiSourceManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	m := &MultiSourceManager{Logger: log}
	for _, s := range sources {
		if err := m.AddSource(s); err != nil {
			m.Logger.Error("Skipping source: %v", err)
		}
	}
	return m
}

// -----------------------------------------------------------------------------

// AddSource appends a collector as the last phase.
func (m *MultiSourceManager) AddSource(source interfaces.ICollector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := source.Name()
	for _, s := range m.sources {
		if s.Name() == name {
			return fmt.Errorf("source %s already exists", name)
		}
	}

	m.sources = append(m.sources, source)
	m.Logger.Info("Added source: %s (phase %d)", name, len(m.sources))
	return nil
}

// -----------------------------------------------------------------------------

// RemoveSource stops and removes a source
func (m *MultiSourceManager) RemoveSource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for idx, s := range m.sources {
		if s.Name() != name {
			continue
		}
		if err := s.Stop(); err != nil {
			m.Logger.Error("Error stopping source %s: %v", name, err)
		}
		m.sources = append(m.sources[:idx], m.sources[idx+1:]...)
		m.Logger.Info("Removed source: %s", name)
		return nil
	}
	return fmt.Errorf("source %s not found", name)
}

// -----------------------------------------------------------------------------

// GetSource retrieves a source by name
func (m *MultiSourceManager) GetSource(name string) (interfaces.ICollector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sources {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("source %s not found", name)
}

// -----------------------------------------------------------------------------

// GetAllSources returns the collectors in phase order.
func (m *MultiSourceManager) GetAllSources() []interfaces.ICollector {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]interfaces.ICollector, len(m.sources))
	copy(list, m.sources)
	return list
}

// -----------------------------------------------------------------------------

// Names lists the phase names in order.
func (m *MultiSourceManager) Names() []string {
	var names []string
	for _, s := range m.GetAllSources() {
		names = append(names, s.Name())
	}
	return names
}

// -----------------------------------------------------------------------------

// StartSource runs a collector's Start; the orchestrator records the error on the phase.
func (m *MultiSourceManager) StartSource(ctx context.Context, name string) error {
	source, err := m.GetSource(name)
	if err != nil {
		return err
	}
	return source.Start(ctx)
}

// -----------------------------------------------------------------------------

// Stop stops every collector, logging failures.
func (m *MultiSourceManager) Stop() error {
	m.Logger.Info("Stopping MultiSourceManager...")
	var firstErr error
	for _, s := range m.GetAllSources() {
		if err := s.Stop(); err != nil {
			m.Logger.Error("Error stopping source %s: %v", s.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
