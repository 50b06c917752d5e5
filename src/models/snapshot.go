package models

import (
	"fmt"
	"time"
)

// SnapshotSource identifies which collector produced a snapshot.
type SnapshotSource string

const (
	SourceAPI          SnapshotSource = "api"
	SourceBrowser      SnapshotSource = "browser_scrape"
	SourceManualImport SnapshotSource = "manual_import"
)

// SourcePriority orders sources when several report the same field for one day.
var SourcePriority = []SnapshotSource{SourceAPI, SourceBrowser, SourceManualImport}

// -----------------------------------------------------------------------------

// Rank returns the position of the source in SourcePriority (unknown sources sort last).
func (s SnapshotSource) Rank() int {
	for i, p := range SourcePriority {
		if p == s {
			return i
		}
	}
	return len(SourcePriority)
}

// -----------------------------------------------------------------------------

func (s SnapshotSource) Valid() bool {
	return s.Rank() < len(SourcePriority)
}

// DataType describes which group of fields a snapshot carries.
type DataType string

const (
	DataTypePrice    DataType = "price"
	DataTypeListing  DataType = "listing"
	DataTypeCombined DataType = "combined"
)

// MSnapshot is one source's observation of one entity on one calendar day.
// Optional fields are nil when the source did not report them.
type MSnapshot struct {
	EntityID               string         `json:"entity_id"`
	Date                   string         `json:"date"` // YYYY-MM-DD, UTC calendar day
	Source                 SnapshotSource `json:"source"`
	DataType               DataType       `json:"data_type"`
	FloorPrice             *float64       `json:"floor_price,omitempty"`
	ActiveListingsCount    *int           `json:"active_listings_count,omitempty"`
	UnitsSoldToday         *int           `json:"units_sold_today,omitempty"`
	UnitsSoldLifetimeTotal *int           `json:"units_sold_lifetime_total,omitempty"`
	DailyVolume            *float64       `json:"daily_volume,omitempty"`
	CapturedAt             time.Time      `json:"captured_at"`
}

// -----------------------------------------------------------------------------

// Key returns the (entity_id, date, source) identity of the snapshot.
func (s MSnapshot) Key() string {
	return fmt.Sprintf("%s|%s|%s", s.EntityID, s.Date, s.Source)
}

// -----------------------------------------------------------------------------

// HasPriceFields reports whether any price-side field is present.
func (s MSnapshot) HasPriceFields() bool {
	return s.FloorPrice != nil || s.DailyVolume != nil || s.UnitsSoldToday != nil || s.UnitsSoldLifetimeTotal != nil
}

// -----------------------------------------------------------------------------

// HasListingFields reports whether the listing count is present.
func (s MSnapshot) HasListingFields() bool {
	return s.ActiveListingsCount != nil
}

// -----------------------------------------------------------------------------

// InferDataType derives the data type from the fields that are present.
func (s MSnapshot) InferDataType() DataType {
	switch {
	case s.HasPriceFields() && s.HasListingFields():
		return DataTypeCombined
	case s.HasListingFields():
		return DataTypeListing
	default:
		return DataTypePrice
	}
}

// -----------------------------------------------------------------------------

// IsEmpty is true when the snapshot carries no observation at all.
func (s MSnapshot) IsEmpty() bool {
	return !s.HasPriceFields() && !s.HasListingFields()
}
