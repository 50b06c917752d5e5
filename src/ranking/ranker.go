package ranking

import (
	"sort"

	"card-market-tracker/src/models"
)

// -----------------------------------------------------------------------------

// Rank orders the day's records by unified daily volume (falling back to the
// 30-day SMA) descending, ties by entity id ascending, and assigns ranks 1..N
// with no shared positions. previous maps entity id to yesterday's rank.
// Only the rank fields are written; the returned slice is in rank order.
func Rank(records []models.MUnifiedMetrics, previous map[string]int) []models.MUnifiedMetrics {
	out := make([]models.MUnifiedMetrics, len(records))
	copy(out, records)

	sort.SliceStable(out, func(a, b int) bool {
		ka, okA := out[a].RankKey()
		kb, okB := out[b].RankKey()
		switch {
		case okA != okB:
			return okA
		case okA && ka != kb:
			return ka > kb
		default:
			return out[a].EntityID < out[b].EntityID
		}
	})

	for idx := range out {
		rank := idx + 1
		out[idx].CurrentRank = &rank

		out[idx].PreviousRank = nil
		out[idx].RankChange = nil
		if prev, ok := previous[out[idx].EntityID]; ok && prev > 0 {
			p := prev
			change := prev - rank
			out[idx].PreviousRank = &p
			out[idx].RankChange = &change
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// PreviousRanks extracts entity id -> rank from a stored day of records.
func PreviousRanks(records []models.MUnifiedMetrics) map[string]int {
	ranks := make(map[string]int, len(records))
	for _, r := range records {
		if r.CurrentRank != nil {
			ranks[r.EntityID] = *r.CurrentRank
		}
	}
	return ranks
}
