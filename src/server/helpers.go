package server

import (
	"sort"
	"strings"

	"card-market-tracker/src/models"
	"card-market-tracker/src/utils"
)

// -----------------------------------------------------------------------------

func copyState(state *models.MLatestData) *models.MLatestData {
	c := *state
	c.Records = make(map[string]models.MUnifiedMetrics, len(state.Records))
	for k, v := range state.Records {
		c.Records[k] = v
	}
	return &c
}

// -----------------------------------------------------------------------------

// filteredState copies the state keeping only the subscribed entities.
func filteredState(state *models.MLatestData, entities map[string]bool, kind string) *models.MLatestData {
	out := &models.MLatestData{
		Type:      kind,
		Date:      state.Date,
		Run:       state.Run,
		Timestamp: state.Timestamp,
		Records:   make(map[string]models.MUnifiedMetrics),
	}
	for id, rec := range state.Records {
		if entities == nil || entities[id] {
			out.Records[id] = rec
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// sortedRecords orders by current rank, unranked last, then by id.
func sortedRecords(records map[string]models.MUnifiedMetrics) []models.MUnifiedMetrics {
	out := make([]models.MUnifiedMetrics, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.CurrentRank != nil && b.CurrentRank != nil && *a.CurrentRank != *b.CurrentRank:
			return *a.CurrentRank < *b.CurrentRank
		case a.CurrentRank != nil && b.CurrentRank == nil:
			return true
		case a.CurrentRank == nil && b.CurrentRank != nil:
			return false
		}
		return a.EntityID < b.EntityID
	})
	return out
}

// -----------------------------------------------------------------------------

func filterRecords(records []models.MUnifiedMetrics, entities map[string]bool) []models.MUnifiedMetrics {
	if entities == nil {
		if records == nil {
			return []models.MUnifiedMetrics{}
		}
		return records
	}
	out := []models.MUnifiedMetrics{}
	for _, r := range records {
		if entities[r.EntityID] {
			out = append(out, r)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// parseEntities reads "a,b,c"; empty means no filter.
func parseEntities(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return entitySet(strings.Split(raw, ","))
}

// -----------------------------------------------------------------------------

func entitySet(ids []string) map[string]bool {
	set := make(map[string]bool)
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// -----------------------------------------------------------------------------

func validDate(date string) bool {
	return utils.ValidDate(date)
}
