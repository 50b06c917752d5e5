package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"card-market-tracker/src/analysis"
	"card-market-tracker/src/catalog"
	datasource "card-market-tracker/src/data_source"
	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"
	"card-market-tracker/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const asOf = "2024-05-01"

type staticCatalog struct {
	entities []models.MEntity
	err      error
}

func (c *staticCatalog) LoadCatalog(ctx context.Context) ([]models.MEntity, error) {
	return c.entities, c.err
}

type stubCollector struct {
	name     string
	source   models.SnapshotSource
	startErr error
	stopErr  error
	ok       func(id string) bool
	volume   float64
	block    chan struct{}
	started  chan struct{}
}

func (c *stubCollector) Name() string                  { return c.name }
func (c *stubCollector) Source() models.SnapshotSource { return c.source }
func (c *stubCollector) MaxConcurrency() int           { return 4 }
func (c *stubCollector) Timeout() time.Duration        { return time.Second }
func (c *stubCollector) Stop() error                   { return c.stopErr }

func (c *stubCollector) Start(ctx context.Context) error {
	if c.started != nil {
		close(c.started)
	}
	if c.block != nil {
		<-c.block
	}
	return c.startErr
}

func (c *stubCollector) Collect(ctx context.Context, e models.MEntity, day string) (models.MSnapshot, error) {
	if c.ok != nil && !c.ok(e.ID) {
		return models.MSnapshot{}, helpers.NewCollectionError(e.ID, helpers.KindTransport, errors.New("boom"))
	}
	v := c.volume
	return models.MSnapshot{DailyVolume: &v}, nil
}

type memSink struct {
	mu         sync.Mutex
	days       map[string][]models.MUnifiedMetrics
	saveErr    error
	cleanupErr error
}

func newMemSink() *memSink { return &memSink{days: make(map[string][]models.MUnifiedMetrics)} }

func (s *memSink) Initialize() error { return nil }
func (s *memSink) Close() error      { return nil }

func (s *memSink) SaveUnifiedMetrics(date string, records []models.MUnifiedMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.days[date] = records
	return nil
}

func (s *memSink) LoadUnifiedMetrics(date string) ([]models.MUnifiedMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.days[date], nil
}

func (s *memSink) LatestMetricsDate() (string, error) { return "", nil }
func (s *memSink) CleanupOldData(int) error           { return s.cleanupErr }

type recordingExchanger struct {
	payloads []models.MLatestData
}

func (r *recordingExchanger) Broadcast(p models.MLatestData)      { r.payloads = append(r.payloads, p) }
func (r *recordingExchanger) UpdateAllDatas(p models.MLatestData) {}
func (r *recordingExchanger) Start() error                        { return nil }
func (r *recordingExchanger) Stop() error                         { return nil }

type fixture struct {
	orch     *Orchestrator
	sink     *memSink
	runStore *storage.FileRunStatusStore
	store    *storage.HistoricalStore
	ex       *recordingExchanger
}

func makeEntities(n int) []models.MEntity {
	var out []models.MEntity
	for i := 1; i <= n; i++ {
		out = append(out, models.MEntity{ID: fmt.Sprintf("op-%02d", i), AliasKey: fmt.Sprintf("OP-%02d", i)})
	}
	return out
}

func newFixture(t *testing.T, cat interfaces.ICatalogProvider, collectors ...interfaces.ICollector) *fixture {
	t.Helper()
	dir := t.TempDir()

	backend, err := storage.NewJSONFileBackend(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	store := storage.NewHistoricalStore(backend, nil)

	sink := newMemSink()
	runStore := storage.NewFileRunStatusStore(filepath.Join(dir, "run_status.json"))
	calc := analysis.NewMetricsCalculator(store, nil, nil)
	sources := datasource.NewMultiSourceManager(collectors, logger.NewNopLogger())

	orch := NewOrchestrator(cat, catalog.NewSharedResolver(), sources, store, calc, sink, runStore, logger.NewNopLogger())
	ex := &recordingExchanger{}
	orch.SetExchanger(ex)
	return &fixture{orch: orch, sink: sink, runStore: runStore, store: store, ex: ex}
}

func TestAPIFailsBrowserPartial(t *testing.T) {
	entities := makeEntities(15)
	api := &stubCollector{name: "api", source: models.SourceAPI, ok: func(string) bool { return false }}
	browser := &stubCollector{
		name:   "browser",
		source: models.SourceBrowser,
		volume: 10,
		ok: func(id string) bool {
			var n int
			_, _ = fmt.Sscanf(id, "op-%d", &n)
			return n <= 10
		},
	}
	f := newFixture(t, &staticCatalog{entities: entities}, api, browser)

	run, err := f.orch.Run(context.Background(), asOf)
	require.NoError(t, err)

	assert.Equal(t, models.RunCompleted, run.Status)
	assert.False(t, run.OverallSuccess)
	assert.Equal(t, 10, run.MetricsComputed)
	assert.Nil(t, run.Error)

	apiPhase := run.PhaseResults["api"]
	require.NotNil(t, apiPhase)
	assert.True(t, apiPhase.Completed)
	assert.Equal(t, 0, apiPhase.SuccessCount)
	assert.Equal(t, 15, apiPhase.ErrorCount)
	assert.NotNil(t, apiPhase.Error)

	browserPhase := run.PhaseResults["browser"]
	assert.Equal(t, 10, browserPhase.SuccessCount)
	assert.Equal(t, 5, browserPhase.ErrorCount)
	assert.Nil(t, browserPhase.Error)
	assert.Len(t, browserPhase.EntityErrors, 5)

	saved := f.sink.days[asOf]
	require.Len(t, saved, 10)
	for i, rec := range saved {
		require.NotNil(t, rec.CurrentRank)
		assert.Equal(t, i+1, *rec.CurrentRank)
	}

	persisted, err := f.runStore.LoadLastRun()
	require.NoError(t, err)
	assert.Equal(t, run.RunID, persisted.RunID)
	assert.Equal(t, models.RunCompleted, persisted.Status)
	require.NotNil(t, persisted.EndTime)

	require.Len(t, f.ex.payloads, 1)
	assert.Len(t, f.ex.payloads[0].Records, 10)
	assert.Equal(t, asOf, f.ex.payloads[0].Date)
}

func TestAllPhasesSucceed(t *testing.T) {
	entities := makeEntities(3)
	api := &stubCollector{name: "api", source: models.SourceAPI, volume: 5}
	browser := &stubCollector{name: "browser", source: models.SourceBrowser, volume: 7}
	f := newFixture(t, &staticCatalog{entities: entities}, api, browser)

	run, err := f.orch.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.True(t, run.OverallSuccess)
	assert.Equal(t, 3, run.MetricsComputed)

	// api wins the merge for the direct daily volume
	require.NotNil(t, f.sink.days[asOf][0].UnifiedDailyVolume)
	assert.Equal(t, 5.0, *f.sink.days[asOf][0].UnifiedDailyVolume)

	// a second run on the same day only finds duplicates
	run, err = f.orch.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, 3, run.PhaseResults["api"].DuplicateCount)
	assert.Equal(t, 3, run.PhaseResults["browser"].DuplicateCount)
	assert.Equal(t, 3, run.MetricsComputed)
}

func TestHousekeepingFailuresReachRun(t *testing.T) {
	api := &stubCollector{name: "api", source: models.SourceAPI, volume: 1, stopErr: errors.New("session leak")}
	f := newFixture(t, &staticCatalog{entities: makeEntities(2)}, api)
	f.orch.RetentionDays = 30
	f.sink.cleanupErr = errors.New("read-only volume")

	run, err := f.orch.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Contains(t, run.IntegrityIssues, "api: stop failed: session leak")
	assert.Contains(t, run.IntegrityIssues, "retention cleanup failed: read-only volume")

	persisted, err := f.runStore.LoadLastRun()
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Contains(t, persisted.IntegrityIssues, "retention cleanup failed: read-only volume")
}

func TestCatalogUnavailableFailsRun(t *testing.T) {
	api := &stubCollector{name: "api", source: models.SourceAPI, volume: 1}
	f := newFixture(t, &staticCatalog{err: errors.New("no such table")}, api)

	run, err := f.orch.Run(context.Background(), asOf)
	var pe *helpers.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.RunFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Empty(t, run.PhaseResults)
	assert.Empty(t, f.sink.days)
	assert.Empty(t, f.ex.payloads)
}

func TestNoSuccessfulPhaseFailsRun(t *testing.T) {
	api := &stubCollector{name: "api", source: models.SourceAPI, startErr: errors.New("missing api key")}
	browser := &stubCollector{name: "browser", source: models.SourceBrowser, ok: func(string) bool { return false }}
	f := newFixture(t, &staticCatalog{entities: makeEntities(2)}, api, browser)

	run, err := f.orch.Run(context.Background(), asOf)
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, 0, run.MetricsComputed)

	apiPhase := run.PhaseResults["api"]
	assert.False(t, apiPhase.Completed)
	require.NotNil(t, apiPhase.Error)
	assert.Contains(t, *apiPhase.Error, "missing api key")
	assert.True(t, run.PhaseResults["browser"].Completed)
	assert.Empty(t, f.sink.days)
}

func TestSinkFailureIsFatal(t *testing.T) {
	api := &stubCollector{name: "api", source: models.SourceAPI, volume: 1}
	f := newFixture(t, &staticCatalog{entities: makeEntities(2)}, api)
	f.sink.saveErr = errors.New("disk full")

	run, err := f.orch.Run(context.Background(), asOf)
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, 0, run.MetricsComputed)
	assert.Empty(t, f.ex.payloads)
}

func TestPreviousRanksComeFromYesterday(t *testing.T) {
	entities := []models.MEntity{{ID: "op-09", AliasKey: "OP-09"}, {ID: "op-10", AliasKey: "OP-10"}}
	volumes := map[string]float64{"op-09": 500, "op-10": 300}
	api := &volumeCollector{volumes: volumes}
	f := newFixture(t, &staticCatalog{entities: entities}, api)

	two, one := 2, 1
	f.sink.days["2024-04-30"] = []models.MUnifiedMetrics{
		{EntityID: "op-09", Date: "2024-04-30", CurrentRank: &two},
		{EntityID: "op-10", Date: "2024-04-30", CurrentRank: &one},
	}

	_, err := f.orch.Run(context.Background(), asOf)
	require.NoError(t, err)

	got := map[string]models.MUnifiedMetrics{}
	for _, r := range f.sink.days[asOf] {
		got[r.EntityID] = r
	}
	assert.Equal(t, 1, *got["op-09"].CurrentRank)
	assert.Equal(t, 1, *got["op-09"].RankChange)
	assert.Equal(t, 2, *got["op-10"].CurrentRank)
	assert.Equal(t, -1, *got["op-10"].RankChange)
}

type volumeCollector struct {
	volumes map[string]float64
}

func (c *volumeCollector) Name() string                    { return "api" }
func (c *volumeCollector) Source() models.SnapshotSource   { return models.SourceAPI }
func (c *volumeCollector) MaxConcurrency() int             { return 2 }
func (c *volumeCollector) Timeout() time.Duration          { return time.Second }
func (c *volumeCollector) Start(ctx context.Context) error { return nil }
func (c *volumeCollector) Stop() error                     { return nil }

func (c *volumeCollector) Collect(ctx context.Context, e models.MEntity, day string) (models.MSnapshot, error) {
	v := c.volumes[e.ID]
	return models.MSnapshot{DailyVolume: &v}, nil
}

func TestConcurrentRunIsRejected(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	api := &stubCollector{name: "api", source: models.SourceAPI, volume: 1, block: block, started: started}
	f := newFixture(t, &staticCatalog{entities: makeEntities(1)}, api)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(context.Background(), asOf)
		done <- err
	}()

	<-started
	assert.True(t, f.orch.Running())
	_, err := f.orch.Run(context.Background(), asOf)
	assert.ErrorIs(t, err, ErrRunInProgress)

	last, err := f.orch.LastRun()
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, last.Status)

	close(block)
	require.NoError(t, <-done)
	assert.False(t, f.orch.Running())
}

func TestRecomputeRepublishes(t *testing.T) {
	entities := makeEntities(2)
	f := newFixture(t, &staticCatalog{entities: entities})

	v := 42.0
	_, err := f.store.Append(models.MSnapshot{EntityID: "op-02", Date: asOf, Source: models.SourceManualImport, DailyVolume: &v})
	require.NoError(t, err)

	records, _, err := f.orch.Recompute(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "op-02", records[0].EntityID)
	assert.Len(t, f.sink.days[asOf], 1)

	_, _, err = f.orch.Recompute(context.Background(), "05/01/2024")
	assert.Error(t, err)
}

func TestInvalidAsOf(t *testing.T) {
	f := newFixture(t, &staticCatalog{entities: makeEntities(1)})
	_, err := f.orch.Run(context.Background(), "2024-13-01")
	var cfgErr *helpers.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
