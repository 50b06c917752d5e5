package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"
	"card-market-tracker/src/utils"
)

// AppendResult tells whether an append stored a new record.
type AppendResult string

const (
	Inserted  AppendResult = "inserted"
	Duplicate AppendResult = "duplicate"
)

// MBatchResult summarizes one AppendBatch call.
type MBatchResult struct {
	Inserted   int
	Duplicates int
	Rejected   []error // integrity errors, one per invalid snapshot
	RejectedAt []int   // input index of each rejected snapshot
}

// -----------------------------------------------------------------------------

// HistoricalStore is the append-only, per-entity, date-keyed snapshot log.
// Appends for one entity are serialized; different entities proceed independently.
type HistoricalStore struct {
	backend interfaces.IHistoryBackend
	Logger  *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// -----------------------------------------------------------------------------

func NewHistoricalStore(backend interfaces.IHistoryBackend, log *logger.Logger) *HistoricalStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &HistoricalStore{
		backend: backend,
		Logger:  log,
		locks:   make(map[string]*sync.Mutex),
	}
}

// -----------------------------------------------------------------------------

func (s *HistoricalStore) entityLock(entityID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[entityID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[entityID] = l
	}
	return l
}

// -----------------------------------------------------------------------------

// Append stores snap unless a record with the same (entity_id, date, source) exists.
func (s *HistoricalStore) Append(snap models.MSnapshot) (AppendResult, error) {
	res, err := s.AppendBatch([]models.MSnapshot{snap})
	if err != nil {
		return "", err
	}
	if len(res.Rejected) > 0 {
		return "", res.Rejected[0]
	}
	if res.Inserted == 1 {
		return Inserted, nil
	}
	return Duplicate, nil
}

// -----------------------------------------------------------------------------

// AppendBatch merges the snapshots entity by entity, persisting each touched
// partition once. Invalid snapshots are rejected without failing the batch;
// a backend failure is returned as a *helpers.PipelineError.
func (s *HistoricalStore) AppendBatch(snaps []models.MSnapshot) (MBatchResult, error) {
	var result MBatchResult

	byEntity := make(map[string][]models.MSnapshot)
	var order []string
	for i, snap := range snaps {
		snap = normalizeSnapshot(snap)
		if err := ValidateSnapshot(snap); err != nil {
			result.Rejected = append(result.Rejected, err)
			result.RejectedAt = append(result.RejectedAt, i)
			continue
		}
		if _, seen := byEntity[snap.EntityID]; !seen {
			order = append(order, snap.EntityID)
		}
		byEntity[snap.EntityID] = append(byEntity[snap.EntityID], snap)
	}

	for _, entityID := range order {
		inserted, dups, err := s.mergeEntity(entityID, byEntity[entityID], false)
		if err != nil {
			return result, err
		}
		result.Inserted += inserted
		result.Duplicates += dups
	}

	if result.Duplicates > 0 {
		s.Logger.Debug("Ignored %d duplicate snapshots", result.Duplicates)
	}
	return result, nil
}

// -----------------------------------------------------------------------------

// Correct replaces the record with the same key (or inserts it). It is the only
// path that may change a stored snapshot. Returns true when a record was replaced.
func (s *HistoricalStore) Correct(snap models.MSnapshot) (bool, error) {
	snap = normalizeSnapshot(snap)
	if err := ValidateSnapshot(snap); err != nil {
		return false, err
	}
	inserted, _, err := s.mergeEntity(snap.EntityID, []models.MSnapshot{snap}, true)
	if err != nil {
		return false, err
	}
	replaced := inserted == 0
	if replaced {
		s.Logger.Info("Corrected snapshot %s", snap.Key())
	}
	return replaced, nil
}

// -----------------------------------------------------------------------------

func (s *HistoricalStore) mergeEntity(entityID string, incoming []models.MSnapshot, correct bool) (int, int, error) {
	lock := s.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.backend.LoadEntity(entityID)
	if err != nil {
		return 0, 0, helpers.NewPipelineError(fmt.Sprintf("load history of %s", entityID), err)
	}

	index := make(map[string]int, len(existing))
	for i, snap := range existing {
		index[snap.Key()] = i
	}

	inserted, dups, changed := 0, 0, false
	for _, snap := range incoming {
		pos, exists := index[snap.Key()]
		switch {
		case !exists:
			index[snap.Key()] = len(existing)
			existing = append(existing, snap)
			inserted++
			changed = true
		case correct:
			existing[pos] = snap
			changed = true
		default:
			dups++
		}
	}

	if !changed {
		return inserted, dups, nil
	}

	SortSnapshots(existing)
	if err := s.backend.SaveEntity(entityID, existing); err != nil {
		return 0, 0, helpers.NewPipelineError(fmt.Sprintf("persist history of %s", entityID), err)
	}
	return inserted, dups, nil
}

// -----------------------------------------------------------------------------

// Read returns the entity's snapshots with from <= date <= to, ascending by date
// then by source priority. Empty bounds are open.
func (s *HistoricalStore) Read(entityID, from, to string) ([]models.MSnapshot, error) {
	lock := s.entityLock(entityID)
	lock.Lock()
	all, err := s.backend.LoadEntity(entityID)
	lock.Unlock()
	if err != nil {
		return nil, helpers.NewPipelineError(fmt.Sprintf("read history of %s", entityID), err)
	}

	out := make([]models.MSnapshot, 0, len(all))
	for _, snap := range all {
		if from != "" && snap.Date < from {
			continue
		}
		if to != "" && snap.Date > to {
			continue
		}
		out = append(out, snap)
	}
	SortSnapshots(out)
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *HistoricalStore) EntityIDs() ([]string, error) {
	return s.backend.EntityIDs()
}

// -----------------------------------------------------------------------------

func (s *HistoricalStore) Close() error {
	return s.backend.Close()
}

// -----------------------------------------------------------------------------

// SortSnapshots orders by date, then source priority, then capture time.
func SortSnapshots(snaps []models.MSnapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Source.Rank() != b.Source.Rank() {
			return a.Source.Rank() < b.Source.Rank()
		}
		return a.CapturedAt.Before(b.CapturedAt)
	})
}

// -----------------------------------------------------------------------------

func normalizeSnapshot(snap models.MSnapshot) models.MSnapshot {
	snap.EntityID = strings.TrimSpace(snap.EntityID)
	if snap.DataType == "" {
		snap.DataType = snap.InferDataType()
	}
	snap.CapturedAt = snap.CapturedAt.UTC()
	return snap
}

// -----------------------------------------------------------------------------

// ValidateSnapshot rejects snapshots the log must never hold.
func ValidateSnapshot(snap models.MSnapshot) error {
	switch {
	case snap.EntityID == "":
		return helpers.NewIntegrityError("snapshot has no entity id")
	case !utils.ValidDate(snap.Date):
		return helpers.NewIntegrityError("snapshot %s has malformed date %q", snap.EntityID, snap.Date)
	case !snap.Source.Valid():
		return helpers.NewIntegrityError("snapshot %s/%s has unknown source %q", snap.EntityID, snap.Date, snap.Source)
	case snap.FloorPrice != nil && *snap.FloorPrice < 0,
		snap.DailyVolume != nil && *snap.DailyVolume < 0,
		snap.ActiveListingsCount != nil && *snap.ActiveListingsCount < 0,
		snap.UnitsSoldToday != nil && *snap.UnitsSoldToday < 0,
		snap.UnitsSoldLifetimeTotal != nil && *snap.UnitsSoldLifetimeTotal < 0:
		return helpers.NewIntegrityError("snapshot %s has a negative field", snap.Key())
	}
	return nil
}
