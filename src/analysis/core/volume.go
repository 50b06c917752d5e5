package core

// VolumeRule names which figure produced a day's unified volume.
type VolumeRule string

const (
	RuleDirect        VolumeRule = "direct"
	RuleLifetimeDelta VolumeRule = "lifetime_delta"
	RuleSoldToday     VolumeRule = "units_sold_today"
	RuleNone          VolumeRule = "none"
)

// DayFigures are the volume-related inputs of one calendar day.
type DayFigures struct {
	DailyVolume       *float64
	UnitsSoldToday    *int
	LifetimeTotal     *int
	PrevLifetimeTotal *int // lifetime total of the previous calendar day
}

// VolumeResult is the outcome of the fallback chain for one day.
type VolumeResult struct {
	Volume        *float64
	Rule          VolumeRule
	NegativeDelta bool // lifetime total went backwards; the delta rule was skipped
}

// -----------------------------------------------------------------------------

// UnifiedVolume applies the fallback chain: direct figure, then the
// non-negative lifetime delta, then units sold today. It never returns zero
// for a day without data.
func UnifiedVolume(f DayFigures) VolumeResult {
	if f.DailyVolume != nil {
		v := *f.DailyVolume
		return VolumeResult{Volume: &v, Rule: RuleDirect}
	}

	res := VolumeResult{Rule: RuleNone}
	if f.LifetimeTotal != nil && f.PrevLifetimeTotal != nil {
		delta := *f.LifetimeTotal - *f.PrevLifetimeTotal
		if delta >= 0 {
			v := float64(delta)
			return VolumeResult{Volume: &v, Rule: RuleLifetimeDelta}
		}
		res.NegativeDelta = true
	}

	if f.UnitsSoldToday != nil {
		v := float64(*f.UnitsSoldToday)
		res.Volume = &v
		res.Rule = RuleSoldToday
	}
	return res
}

// -----------------------------------------------------------------------------

// CappedIncrease is max(0, today - yesterday) limited to ceiling.
// ok is false when either count is missing.
func CappedIncrease(today, yesterday *int, ceiling int) (float64, bool) {
	if today == nil || yesterday == nil {
		return 0, false
	}
	inc := *today - *yesterday
	if inc < 0 {
		inc = 0
	}
	if ceiling > 0 && inc > ceiling {
		inc = ceiling
	}
	return float64(inc), true
}
