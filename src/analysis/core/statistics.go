package core

import "github.com/shopspring/decimal"

// Precision is the number of decimals every derived figure is rounded to.
const Precision = 2

// -----------------------------------------------------------------------------

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(Precision).InexactFloat64()
}

// -----------------------------------------------------------------------------

// RoundPtr rounds a nullable figure, keeping nil as nil.
func RoundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := Round2(*v)
	return &r
}

// -----------------------------------------------------------------------------

// SumPresent adds the non-nil values and reports how many there were.
// Missing days are skipped, never read as zero.
func SumPresent(values []*float64) (float64, int) {
	sum := decimal.Zero
	count := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(*v))
		count++
	}
	return sum.InexactFloat64(), count
}

// -----------------------------------------------------------------------------

// WindowSum is SumPresent as a nullable figure: nil when no day has data.
func WindowSum(values []*float64) (*float64, int) {
	sum, count := SumPresent(values)
	if count == 0 {
		return nil, 0
	}
	return &sum, count
}

// -----------------------------------------------------------------------------

// MeanOverPresent divides the window sum by the number of days with data.
func MeanOverPresent(values []*float64) *float64 {
	sum, count := SumPresent(values)
	if count == 0 {
		return nil
	}
	mean := decimal.NewFromFloat(sum).Div(decimal.NewFromInt(int64(count))).InexactFloat64()
	return &mean
}

// -----------------------------------------------------------------------------

// PercentChange returns (current - prior) / prior * 100, or nil when the prior
// figure is absent or zero or the current one is absent.
func PercentChange(current, prior *float64) *float64 {
	if current == nil || prior == nil || *prior == 0 {
		return nil
	}
	cur := decimal.NewFromFloat(*current)
	prev := decimal.NewFromFloat(*prior)
	pct := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).InexactFloat64()
	return &pct
}
