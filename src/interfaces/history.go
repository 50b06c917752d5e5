package interfaces

import "card-market-tracker/src/models"

// -----------------------------------------------------------------------------
// IHistoryBackend persists per-entity snapshot partitions.
// -----------------------------------------------------------------------------

type IHistoryBackend interface {

	// LoadEntity returns every stored snapshot of the entity (any order).
	LoadEntity(entityID string) ([]models.MSnapshot, error)

	// -----------------------------------------------------------------------------

	// SaveEntity replaces the entity's partition atomically.
	SaveEntity(entityID string, snapshots []models.MSnapshot) error

	// -----------------------------------------------------------------------------

	EntityIDs() ([]string, error)

	// -----------------------------------------------------------------------------

	Close() error
}

// -----------------------------------------------------------------------------
// ISnapshotReader is the read side of the Historical Store.
// -----------------------------------------------------------------------------

type ISnapshotReader interface {
	// Read returns snapshots with from <= date <= to, ascending by date then source priority.
	Read(entityID, from, to string) ([]models.MSnapshot, error)
}
