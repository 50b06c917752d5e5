package interfaces

import (
	"context"

	"card-market-tracker/src/models"
)

// -----------------------------------------------------------------------------
// IDatabase defines the contract for the unified metrics sink.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveUnifiedMetrics replaces the record set of one day.
	SaveUnifiedMetrics(date string, records []models.MUnifiedMetrics) error

	// -----------------------------------------------------------------------------

	// LoadUnifiedMetrics returns the records of one day (empty if none).
	LoadUnifiedMetrics(date string) ([]models.MUnifiedMetrics, error)

	// -----------------------------------------------------------------------------

	// LatestMetricsDate returns the most recent day with records, or "" if none.
	LatestMetricsDate() (string, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes metrics older than the retention window.
	CleanupOldData(retentionDays int) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}

// -----------------------------------------------------------------------------
// IRunStatusStore persists the run-status artifact.
// -----------------------------------------------------------------------------

type IRunStatusStore interface {
	SaveRun(run *models.MRefreshRun) error

	// LoadLastRun returns nil, nil when no run was ever recorded.
	LoadLastRun() (*models.MRefreshRun, error)
}

// -----------------------------------------------------------------------------
// IRunReporter exposes the latest run artifact to the operational surface.
// -----------------------------------------------------------------------------

type IRunReporter interface {
	LastRun() (*models.MRefreshRun, error)
}

// -----------------------------------------------------------------------------
// IRefreshRunner triggers refresh runs on behalf of the control surface.
// -----------------------------------------------------------------------------

type IRefreshRunner interface {
	IRunReporter

	// Run executes one refresh; asOf "" means today.
	Run(ctx context.Context, asOf string) (*models.MRefreshRun, error)

	Running() bool
}
