package models

import "time"

// MUnifiedMetrics is the pipeline's single ranked record per entity per day.
// Pointer fields serialize as null when no figure exists.
type MUnifiedMetrics struct {
	EntityID               string    `json:"entity_id"`
	Date                   string    `json:"date"`
	FloorPrice             *float64  `json:"floor_price"`
	ActiveListingsCount    *int      `json:"active_listings_count"`
	UnifiedDailyVolume     *float64  `json:"unified_daily_volume"`
	UnifiedVolume7d        *float64  `json:"unified_volume_7d"`
	UnifiedVolume30d       *float64  `json:"unified_volume_30d"`
	UnifiedVolume30dSMA    *float64  `json:"unified_volume_30d_sma"`
	VolumeMoMChangePct     *float64  `json:"volume_mom_change_pct"`
	AvgBoxesAddedPerDay    *float64  `json:"avg_boxes_added_per_day"`
	UnitsSoldLifetimeTotal *int      `json:"units_sold_lifetime_total"`
	CurrentRank            *int      `json:"current_rank"`
	PreviousRank           *int      `json:"previous_rank"`
	RankChange             *int      `json:"rank_change"`
	DaysWithVolume30d      int       `json:"days_with_volume_30d"`
	ComputedAt             time.Time `json:"computed_at"`
}

// -----------------------------------------------------------------------------

// RankKey returns the value the ranker orders by: daily volume, else the 30-day SMA.
func (m MUnifiedMetrics) RankKey() (float64, bool) {
	if m.UnifiedDailyVolume != nil {
		return *m.UnifiedDailyVolume, true
	}
	if m.UnifiedVolume30dSMA != nil {
		return *m.UnifiedVolume30dSMA, true
	}
	return 0, false
}
