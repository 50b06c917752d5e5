package interfaces

import (
	"context"

	"card-market-tracker/src/models"
)

// -----------------------------------------------------------------------------
// ICatalogProvider supplies the tracked entities and their alias keys.
// -----------------------------------------------------------------------------

type ICatalogProvider interface {
	// LoadCatalog returns every tracked entity. Duplicate ids or alias keys are an error.
	LoadCatalog(ctx context.Context) ([]models.MEntity, error)
}

// -----------------------------------------------------------------------------
// IResolver maps free-form marketplace labels to entity ids.
// -----------------------------------------------------------------------------

type IResolver interface {
	Resolve(rawLabel string) (string, bool)
}
