package analysis

import (
	"fmt"
	"time"

	"card-market-tracker/src/analysis/core"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"
	"card-market-tracker/src/utils"
)

// MetricsCalculator derives each entity's unified record for a day from the
// historical log. It only reads the log.
type MetricsCalculator struct {
	Reader     interfaces.ISnapshotReader
	ListingCap int
	Logger     *logger.Logger
	Now        func() time.Time
}

// -----------------------------------------------------------------------------

func NewMetricsCalculator(reader interfaces.ISnapshotReader, cfg *models.MConfig, log *logger.Logger) *MetricsCalculator {
	listingCap := utils.DefaultListingCap
	if cfg != nil && cfg.Metrics.ListingIncreaseCap > 0 {
		listingCap = cfg.Metrics.ListingIncreaseCap
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &MetricsCalculator{
		Reader:     reader,
		ListingCap: listingCap,
		Logger:     log,
		Now:        time.Now,
	}
}

// -----------------------------------------------------------------------------

// ComputeAll computes the asOf record of every entity that has a snapshot on
// asOf. The returned issues are data-integrity findings for the run artifact.
// A read failure aborts the whole computation.
func (c *MetricsCalculator) ComputeAll(entityIDs []string, asOf string) ([]models.MUnifiedMetrics, []string, error) {
	if !utils.ValidDate(asOf) {
		return nil, nil, fmt.Errorf("invalid as-of date %q", asOf)
	}

	var records []models.MUnifiedMetrics
	var issues []string
	for _, id := range entityIDs {
		rec, found, err := c.Compute(id, asOf)
		if err != nil {
			return nil, nil, err
		}
		issues = append(issues, found...)
		if rec != nil {
			records = append(records, *rec)
		}
	}

	c.Logger.Info("Computed %d unified records for %s (%d entities, %d integrity issues)", len(records), asOf, len(entityIDs), len(issues))
	return records, issues, nil
}

// -----------------------------------------------------------------------------

// Compute returns nil when the entity has no snapshot on asOf.
func (c *MetricsCalculator) Compute(entityID, asOf string) (*models.MUnifiedMetrics, []string, error) {
	from := utils.AddDays(asOf, -utils.LookbackDays)
	snaps, err := c.Reader.Read(entityID, from, asOf)
	if err != nil {
		return nil, nil, err
	}

	series := BuildDailySeries(snaps, from, asOf)
	today, _ := series.Day(asOf)
	if !today.HasSnapshot {
		return nil, nil, nil
	}

	// unified volume per day for the current and prior 30-day windows
	volumes := make(map[string]*float64)
	var issues []string
	currentStart := utils.AddDays(asOf, -(utils.Window30d - 1))
	for _, day := range series.Window(asOf, 2*utils.Window30d) {
		prev, _ := series.Previous(day.Date)
		res := core.UnifiedVolume(core.DayFigures{
			DailyVolume:       day.DailyVolume,
			UnitsSoldToday:    day.UnitsSoldToday,
			LifetimeTotal:     day.UnitsSoldLifetimeTotal,
			PrevLifetimeTotal: prev.UnitsSoldLifetimeTotal,
		})
		volumes[day.Date] = res.Volume
		if res.NegativeDelta && day.Date >= currentStart {
			issues = append(issues, fmt.Sprintf("negative lifetime delta for %s on %s: %d -> %d",
				entityID, day.Date, *prev.UnitsSoldLifetimeTotal, *day.UnitsSoldLifetimeTotal))
		}
	}

	collect := func(end string, length int) []*float64 {
		var out []*float64
		for _, d := range series.Window(end, length) {
			out = append(out, volumes[d.Date])
		}
		return out
	}

	current := collect(asOf, utils.Window30d)
	prior := collect(utils.AddDays(asOf, -utils.Window30d), utils.Window30d)

	sum7, _ := core.WindowSum(collect(asOf, utils.Window7d))
	sum30, days30 := core.WindowSum(current)
	priorSum, _ := core.WindowSum(prior)

	rec := &models.MUnifiedMetrics{
		EntityID:               entityID,
		Date:                   asOf,
		FloorPrice:             core.RoundPtr(today.FloorPrice),
		ActiveListingsCount:    today.ActiveListingsCount,
		UnifiedDailyVolume:     core.RoundPtr(volumes[asOf]),
		UnifiedVolume7d:        core.RoundPtr(sum7),
		UnifiedVolume30d:       core.RoundPtr(sum30),
		UnifiedVolume30dSMA:    core.RoundPtr(core.MeanOverPresent(current)),
		VolumeMoMChangePct:     core.RoundPtr(core.PercentChange(sum30, priorSum)),
		AvgBoxesAddedPerDay:    core.RoundPtr(c.avgBoxesAdded(series, asOf)),
		UnitsSoldLifetimeTotal: today.UnitsSoldLifetimeTotal,
		DaysWithVolume30d:      days30,
		ComputedAt:             c.Now().UTC(),
	}
	return rec, issues, nil
}

// -----------------------------------------------------------------------------

// avgBoxesAdded averages the capped daily listing increases over the 30-day
// window, counting only days where both the day and the day before have a count.
func (c *MetricsCalculator) avgBoxesAdded(series *DailySeries, asOf string) *float64 {
	var increases []*float64
	for _, day := range series.Window(asOf, utils.Window30d) {
		prev, _ := series.Previous(day.Date)
		inc, ok := core.CappedIncrease(day.ActiveListingsCount, prev.ActiveListingsCount, c.ListingCap)
		if ok {
			increases = append(increases, &inc)
		}
	}
	return core.MeanOverPresent(increases)
}
