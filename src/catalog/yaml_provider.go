package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"card-market-tracker/src/models"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Entities []models.MEntity `yaml:"entities"`
}

// YAMLProvider loads the catalog from a YAML file:
//
//	entities:
//	  - id: op-01-blue
//	    display_name: Romance Dawn Booster Box (Blue)
//	    alias_key: OP-01 (Blue)
type YAMLProvider struct {
	Path string
}

// -----------------------------------------------------------------------------

func NewYAMLProvider(path string) *YAMLProvider {
	return &YAMLProvider{Path: path}
}

// -----------------------------------------------------------------------------

func (p *YAMLProvider) LoadCatalog(ctx context.Context) ([]models.MEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file '%s': %w", p.Path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if len(file.Entities) == 0 {
		return nil, fmt.Errorf("catalog '%s' lists no entities", p.Path)
	}
	if err := ValidateEntities(file.Entities); err != nil {
		return nil, err
	}

	for i := range file.Entities {
		if file.Entities[i].CreatedAt.IsZero() {
			file.Entities[i].CreatedAt = time.Unix(0, 0).UTC()
		}
		if file.Entities[i].DisplayName == "" {
			file.Entities[i].DisplayName = file.Entities[i].AliasKey
		}
	}
	return file.Entities, nil
}
