package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"golang.org/x/sync/errgroup"
)

// MCollectResult is the per-entity outcome of one collector phase.
type MCollectResult struct {
	Snapshots map[string]models.MSnapshot
	Errors    map[string]error
}

// -----------------------------------------------------------------------------

// CollectAll collects every entity independently on a bounded pool sized by
// the collector's MaxConcurrency. Each call gets the collector's timeout; a
// call that overruns is abandoned and recorded as a timeout for that entity
// only. Sibling collections are never cancelled by one entity's failure.
func CollectAll(ctx context.Context, c interfaces.ICollector, entities []models.MEntity, asOf string, log *logger.Logger) MCollectResult {
	result := MCollectResult{
		Snapshots: make(map[string]models.MSnapshot),
		Errors:    make(map[string]error),
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	limit := c.MaxConcurrency()
	if limit < 1 {
		limit = 1
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(limit)

	for _, entity := range entities {
		g.Go(func() error {
			snap, err := collectOne(ctx, c, entity, asOf)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Info("%s: %s failed: %v", c.Name(), entity.ID, err)
				result.Errors[entity.ID] = err
				return nil
			}
			result.Snapshots[entity.ID] = snap
			return nil
		})
	}
	_ = g.Wait()

	log.Info("%s: collected %d/%d entities for %s", c.Name(), len(result.Snapshots), len(entities), asOf)
	return result
}

// -----------------------------------------------------------------------------

type collectOutcome struct {
	snap models.MSnapshot
	err  error
}

func collectOne(ctx context.Context, c interfaces.ICollector, entity models.MEntity, asOf string) (models.MSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindTimeout, err)
	}

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout := c.Timeout(); timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// buffered so an abandoned call can still finish and exit
	done := make(chan collectOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- collectOutcome{err: fmt.Errorf("collector panic: %v", r)}
			}
		}()
		snap, err := c.Collect(callCtx, entity, asOf)
		done <- collectOutcome{snap: snap, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindTimeout, out.err)
			}
			var ce *helpers.CollectionError
			if errors.As(out.err, &ce) {
				return models.MSnapshot{}, out.err
			}
			return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindTransport, out.err)
		}
		return stamp(out.snap, c, entity, asOf)
	case <-callCtx.Done():
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindTimeout,
			fmt.Errorf("abandoned after %v: %w", c.Timeout(), callCtx.Err()))
	}
}

// -----------------------------------------------------------------------------

// stamp fills identity fields the collector left empty and rejects snapshots
// that carry no observation at all.
func stamp(snap models.MSnapshot, c interfaces.ICollector, entity models.MEntity, asOf string) (models.MSnapshot, error) {
	snap.EntityID = entity.ID
	snap.Date = asOf
	if snap.Source == "" {
		snap.Source = c.Source()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	if snap.DataType == "" {
		snap.DataType = snap.InferDataType()
	}
	if snap.IsEmpty() {
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindParse, errors.New("no usable field in source data"))
	}
	return snap, nil
}
