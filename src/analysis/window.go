package analysis

import (
	"card-market-tracker/src/models"
	"card-market-tracker/src/utils"
)

// DayObservation is one calendar day of an entity with every source merged.
type DayObservation struct {
	Date                   string
	HasSnapshot            bool
	FloorPrice             *float64
	ActiveListingsCount    *int
	UnitsSoldToday         *int
	UnitsSoldLifetimeTotal *int
	DailyVolume            *float64
}

// DailySeries holds consecutive calendar days, oldest first.
type DailySeries struct {
	From string
	Days []DayObservation
	pos  map[string]int
}

// -----------------------------------------------------------------------------

// BuildDailySeries buckets snapshots into one observation per calendar day in
// [from, to]. Per field, the first non-null value in source priority wins;
// snaps must already be ordered by date then source priority.
func BuildDailySeries(snaps []models.MSnapshot, from, to string) *DailySeries {
	dates := utils.DateRange(from, to)
	series := &DailySeries{
		From: from,
		Days: make([]DayObservation, len(dates)),
		pos:  make(map[string]int, len(dates)),
	}
	for idx, d := range dates {
		series.Days[idx] = DayObservation{Date: d}
		series.pos[d] = idx
	}

	for _, s := range snaps {
		idx, ok := series.pos[s.Date]
		if !ok {
			continue
		}
		day := &series.Days[idx]
		day.HasSnapshot = true
		if day.FloorPrice == nil {
			day.FloorPrice = s.FloorPrice
		}
		if day.ActiveListingsCount == nil {
			day.ActiveListingsCount = s.ActiveListingsCount
		}
		if day.UnitsSoldToday == nil {
			day.UnitsSoldToday = s.UnitsSoldToday
		}
		if day.UnitsSoldLifetimeTotal == nil {
			day.UnitsSoldLifetimeTotal = s.UnitsSoldLifetimeTotal
		}
		if day.DailyVolume == nil {
			day.DailyVolume = s.DailyVolume
		}
	}
	return series
}

// -----------------------------------------------------------------------------

// Day returns the observation of date; ok is false outside the series.
func (s *DailySeries) Day(date string) (DayObservation, bool) {
	idx, ok := s.pos[date]
	if !ok {
		return DayObservation{}, false
	}
	return s.Days[idx], true
}

// -----------------------------------------------------------------------------

// Previous returns the day before date, if it is inside the series.
func (s *DailySeries) Previous(date string) (DayObservation, bool) {
	return s.Day(utils.AddDays(date, -1))
}

// -----------------------------------------------------------------------------

// Window returns the days in [end-length+1, end] that are inside the series.
func (s *DailySeries) Window(end string, length int) []DayObservation {
	var out []DayObservation
	for _, d := range utils.DateRange(utils.AddDays(end, -(length-1)), end) {
		if obs, ok := s.Day(d); ok {
			out = append(out, obs)
		}
	}
	return out
}
