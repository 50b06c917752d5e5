package datasource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"card-market-tracker/src/helpers"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	name        string
	concurrency int
	timeout     time.Duration
	collect     func(ctx context.Context, e models.MEntity) (models.MSnapshot, error)
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	stopped     bool
}

func (f *fakeCollector) Name() string                    { return f.name }
func (f *fakeCollector) Source() models.SnapshotSource   { return models.SourceAPI }
func (f *fakeCollector) MaxConcurrency() int             { return f.concurrency }
func (f *fakeCollector) Timeout() time.Duration          { return f.timeout }
func (f *fakeCollector) Start(ctx context.Context) error { return nil }
func (f *fakeCollector) Stop() error                     { f.stopped = true; return nil }

func (f *fakeCollector) Collect(ctx context.Context, e models.MEntity, asOf string) (models.MSnapshot, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	return f.collect(ctx, e)
}

func entities(ids ...string) []models.MEntity {
	var out []models.MEntity
	for _, id := range ids {
		out = append(out, models.MEntity{ID: id, AliasKey: id})
	}
	return out
}

func priced(v float64) models.MSnapshot {
	return models.MSnapshot{FloorPrice: &v}
}

func TestCollectAllIsolatesFailures(t *testing.T) {
	c := &fakeCollector{
		name:        "api",
		concurrency: 2,
		timeout:     time.Second,
		collect: func(ctx context.Context, e models.MEntity) (models.MSnapshot, error) {
			if e.ID == "bad" {
				return models.MSnapshot{}, errors.New("connection reset")
			}
			return priced(10), nil
		},
	}

	res := CollectAll(context.Background(), c, entities("a", "bad", "b"), "2024-05-01", logger.NewNopLogger())

	require.Len(t, res.Snapshots, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, helpers.KindTransport, helpers.KindOf(res.Errors["bad"]))

	snap := res.Snapshots["a"]
	assert.Equal(t, "a", snap.EntityID)
	assert.Equal(t, "2024-05-01", snap.Date)
	assert.Equal(t, models.SourceAPI, snap.Source)
	assert.Equal(t, models.DataTypePrice, snap.DataType)
	assert.False(t, snap.CapturedAt.IsZero())
}

func TestCollectAllTimeoutAbandonsOnlyThatEntity(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := &fakeCollector{
		name:        "browser",
		concurrency: 3,
		timeout:     50 * time.Millisecond,
		collect: func(ctx context.Context, e models.MEntity) (models.MSnapshot, error) {
			if e.ID == "slow" {
				// ignores its context on purpose
				<-release
			}
			return priced(5), nil
		},
	}

	start := time.Now()
	res := CollectAll(context.Background(), c, entities("a", "slow", "b"), "2024-05-01", nil)

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, res.Snapshots, 2)
	require.Contains(t, res.Errors, "slow")
	assert.Equal(t, helpers.KindTimeout, helpers.KindOf(res.Errors["slow"]))
}

func TestCollectAllRespectsConcurrencyLimit(t *testing.T) {
	c := &fakeCollector{
		name:        "api",
		concurrency: 2,
		timeout:     time.Second,
		collect: func(ctx context.Context, e models.MEntity) (models.MSnapshot, error) {
			time.Sleep(10 * time.Millisecond)
			return priced(1), nil
		},
	}

	res := CollectAll(context.Background(), c, entities("a", "b", "c", "d", "e", "f"), "2024-05-01", nil)

	assert.Len(t, res.Snapshots, 6)
	assert.LessOrEqual(t, c.maxInFlight.Load(), int32(2))
}

func TestCollectAllKeepsTypedErrorsAndRejectsEmpty(t *testing.T) {
	c := &fakeCollector{
		name:        "api",
		concurrency: 1,
		timeout:     time.Second,
		collect: func(ctx context.Context, e models.MEntity) (models.MSnapshot, error) {
			switch e.ID {
			case "quota":
				return models.MSnapshot{}, helpers.NewCollectionError(e.ID, helpers.KindQuota, errors.New("402"))
			case "panic":
				panic("boom")
			default:
				return models.MSnapshot{}, nil
			}
		},
	}

	res := CollectAll(context.Background(), c, entities("quota", "empty", "panic"), "2024-05-01", nil)

	assert.Empty(t, res.Snapshots)
	assert.Equal(t, helpers.KindQuota, helpers.KindOf(res.Errors["quota"]))
	assert.Equal(t, helpers.KindParse, helpers.KindOf(res.Errors["empty"]))
	assert.Equal(t, helpers.KindTransport, helpers.KindOf(res.Errors["panic"]))
}

func TestCollectAllCancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &fakeCollector{
		name:        "api",
		concurrency: 1,
		timeout:     time.Second,
		collect: func(ctx context.Context, e models.MEntity) (models.MSnapshot, error) {
			return priced(1), nil
		},
	}

	res := CollectAll(ctx, c, entities("a", "b"), "2024-05-01", nil)
	assert.Empty(t, res.Snapshots)
	assert.Len(t, res.Errors, 2)
}

func TestMultiSourceManagerOrder(t *testing.T) {
	api := &fakeCollector{name: "api"}
	browser := &fakeCollector{name: "browser"}
	m := NewMultiSourceManager(nil, logger.NewNopLogger())

	require.NoError(t, m.AddSource(api))
	require.NoError(t, m.AddSource(browser))
	assert.Error(t, m.AddSource(&fakeCollector{name: "api"}))
	assert.Equal(t, []string{"api", "browser"}, m.Names())

	got, err := m.GetSource("browser")
	require.NoError(t, err)
	assert.Same(t, browser, got)

	require.NoError(t, m.RemoveSource("api"))
	assert.True(t, api.stopped)
	assert.Equal(t, []string{"browser"}, m.Names())
	assert.Error(t, m.RemoveSource("api"))

	require.NoError(t, m.Stop())
	assert.True(t, browser.stopped)
}
