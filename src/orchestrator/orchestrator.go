package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"card-market-tracker/src/analysis"
	"card-market-tracker/src/analysis/core"
	"card-market-tracker/src/catalog"
	datasource "card-market-tracker/src/data_source"
	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"
	"card-market-tracker/src/ranking"
	"card-market-tracker/src/storage"
	"card-market-tracker/src/utils"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when a refresh is triggered while another runs.
var ErrRunInProgress = errors.New("a refresh run is already in progress")

// Orchestrator drives one refresh run: catalog, collector phases in order,
// then metrics, ranks and publication. Only one run executes at a time.
type Orchestrator struct {
	Catalog    interfaces.ICatalogProvider
	Resolver   *catalog.SharedResolver
	Sources    *datasource.MultiSourceManager
	Store      *storage.HistoricalStore
	Calculator *analysis.MetricsCalculator
	Sink       interfaces.IDatabase
	RunStore   interfaces.IRunStatusStore
	Exchanger  interfaces.IDataExchanger
	Logger     *logger.Logger

	RetentionDays int
	Now           func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	lastRun *models.MRefreshRun
}

// -----------------------------------------------------------------------------

func NewOrchestrator(
	provider interfaces.ICatalogProvider,
	resolver *catalog.SharedResolver,
	sources *datasource.MultiSourceManager,
	store *storage.HistoricalStore,
	calculator *analysis.MetricsCalculator,
	sink interfaces.IDatabase,
	runStore interfaces.IRunStatusStore,
	log *logger.Logger,
) *Orchestrator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if resolver == nil {
		resolver = catalog.NewSharedResolver()
	}
	return &Orchestrator{
		Catalog:       provider,
		Resolver:      resolver,
		Sources:       sources,
		Store:         store,
		Calculator:    calculator,
		Sink:          sink,
		RunStore:      runStore,
		Logger:        log,
		RetentionDays: utils.DefaultRetentionDays,
		Now:           time.Now,
	}
}

// -----------------------------------------------------------------------------

// SetExchanger attaches the optional listener that receives each published set.
func (o *Orchestrator) SetExchanger(ex interfaces.IDataExchanger) {
	o.Exchanger = ex
}

// -----------------------------------------------------------------------------

// Running reports whether a run is executing.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// -----------------------------------------------------------------------------

// LastRun returns the most recent run artifact, from memory or the run-status store.
func (o *Orchestrator) LastRun() (*models.MRefreshRun, error) {
	o.mu.RLock()
	run := o.lastRun
	o.mu.RUnlock()
	if run != nil {
		return cloneRun(run), nil
	}
	if o.RunStore == nil {
		return nil, nil
	}
	return o.RunStore.LoadLastRun()
}

// -----------------------------------------------------------------------------

// Run executes one refresh for asOf ("" means today, UTC). The returned run is
// always the final artifact; the error is non-nil only when the run failed or
// could not start.
func (o *Orchestrator) Run(ctx context.Context, asOf string) (*models.MRefreshRun, error) {
	if asOf == "" {
		asOf = utils.FormatDate(o.Now())
	}
	if !utils.ValidDate(asOf) {
		return nil, helpers.NewConfigurationError(fmt.Sprintf("invalid as-of date %q", asOf), nil)
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	run := &models.MRefreshRun{
		RunID:        uuid.NewString(),
		AsOf:         asOf,
		Status:       models.RunPending,
		StartTime:    o.Now().UTC(),
		PhaseResults: make(map[string]*models.MPhaseResult),
	}
	o.persist(run)

	o.transition(run, models.RunRunning)
	o.Logger.Info("Refresh %s started for %s", run.RunID, asOf)

	err := o.execute(ctx, run)
	if err != nil {
		o.fail(run, err)
	} else {
		o.finish(run, models.RunCompleted)
	}

	o.Logger.Info("Refresh %s %s in %.2fs (overall_success=%v, %d records)",
		run.RunID, run.Status, run.DurationSeconds, run.OverallSuccess, run.MetricsComputed)
	return cloneRun(run), err
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) execute(ctx context.Context, run *models.MRefreshRun) error {
	entities, err := o.loadCatalog(ctx)
	if err != nil {
		return err
	}

	anySuccess := false
	for _, source := range o.Sources.GetAllSources() {
		phase, err := o.runPhase(ctx, source, entities, run)
		if err != nil {
			return err
		}
		if phase.SuccessCount > 0 {
			anySuccess = true
		}
	}

	run.OverallSuccess = len(run.PhaseResults) > 0
	for _, phase := range run.PhaseResults {
		if !phase.Succeeded() {
			run.OverallSuccess = false
		}
	}

	if !anySuccess {
		return helpers.NewPipelineError("no phase collected any entity", nil)
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	records, issues, err := o.publish(ids, run.AsOf, run)
	run.IntegrityIssues = append(run.IntegrityIssues, issues...)
	if err != nil {
		return err
	}
	run.MetricsComputed = len(records)
	return nil
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) loadCatalog(ctx context.Context) ([]models.MEntity, error) {
	entities, err := o.Catalog.LoadCatalog(ctx)
	if err != nil {
		return nil, helpers.NewPipelineError("catalog unavailable", err)
	}
	if err := o.Resolver.Update(entities); err != nil {
		return nil, helpers.NewPipelineError("catalog invalid", err)
	}
	return entities, nil
}

// -----------------------------------------------------------------------------

// runPhase runs one collector over the catalog and appends what it got.
// Collector problems stay on the phase; only a store failure is returned.
func (o *Orchestrator) runPhase(ctx context.Context, source interfaces.ICollector, entities []models.MEntity, run *models.MRefreshRun) (*models.MPhaseResult, error) {
	name := source.Name()
	phase := &models.MPhaseResult{EntityErrors: make(map[string]string)}
	run.PhaseResults[name] = phase

	if err := source.Start(ctx); err != nil {
		phaseErr := &helpers.PhaseError{Phase: name, Cause: err}
		o.Logger.Error("%v", phaseErr)
		msg := phaseErr.Error()
		phase.Error = &msg
		phase.ErrorCount = len(entities)
		o.persist(run)
		return phase, nil
	}
	defer func() {
		if err := source.Stop(); err != nil {
			o.Logger.Warning("Stopping %s: %v", name, err)
			run.IntegrityIssues = append(run.IntegrityIssues, fmt.Sprintf("%s: stop failed: %v", name, err))
		}
	}()

	result := datasource.CollectAll(ctx, source, entities, run.AsOf, o.Logger.Named(name))
	for id, err := range result.Errors {
		phase.EntityErrors[id] = err.Error()
	}

	snaps := make([]models.MSnapshot, 0, len(result.Snapshots))
	for _, e := range entities {
		if snap, ok := result.Snapshots[e.ID]; ok {
			snaps = append(snaps, snap)
		}
	}

	batch, err := o.Store.AppendBatch(snaps)
	if err != nil {
		return phase, err
	}
	for _, rejected := range batch.Rejected {
		o.Logger.Warning("%s: rejected snapshot: %v", name, rejected)
		run.IntegrityIssues = append(run.IntegrityIssues, fmt.Sprintf("%s: %v", name, rejected))
	}
	if batch.Duplicates > 0 {
		run.IntegrityIssues = append(run.IntegrityIssues,
			fmt.Sprintf("%s: %d duplicate snapshots ignored", name, batch.Duplicates))
	}

	phase.Completed = true
	phase.SuccessCount = len(snaps) - len(batch.Rejected)
	phase.ErrorCount = len(result.Errors) + len(batch.Rejected)
	phase.DuplicateCount = batch.Duplicates
	if phase.SuccessCount == 0 && len(entities) > 0 {
		msg := (&helpers.PhaseError{Phase: name, Cause: fmt.Errorf("all %d entities failed", len(entities))}).Error()
		phase.Error = &msg
	}
	if len(phase.EntityErrors) == 0 {
		phase.EntityErrors = nil
	}

	o.Logger.Info("Phase %s: %d ok, %d errors, %d duplicates", name, phase.SuccessCount, phase.ErrorCount, phase.DuplicateCount)
	o.persist(run)
	return phase, nil
}

// -----------------------------------------------------------------------------

// Recompute rebuilds and republishes the asOf records from the stored log
// without collecting anything. Used after a manual import.
func (o *Orchestrator) Recompute(ctx context.Context, asOf string) ([]models.MUnifiedMetrics, []string, error) {
	if !utils.ValidDate(asOf) {
		return nil, nil, helpers.NewConfigurationError(fmt.Sprintf("invalid date %q", asOf), nil)
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	entities, err := o.loadCatalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return o.publish(ids, asOf, nil)
}

// -----------------------------------------------------------------------------

// publish computes, ranks, stores and broadcasts one day's record set.
func (o *Orchestrator) publish(ids []string, asOf string, run *models.MRefreshRun) ([]models.MUnifiedMetrics, []string, error) {
	records, issues, err := o.Calculator.ComputeAll(ids, asOf)
	if err != nil {
		return nil, issues, helpers.NewPipelineError("metrics computation failed", err)
	}

	previousDay := utils.AddDays(asOf, -1)
	prev, err := o.Sink.LoadUnifiedMetrics(previousDay)
	if err != nil {
		issues = append(issues, fmt.Sprintf("previous ranks for %s unavailable: %v", previousDay, err))
		prev = nil
	}
	ranked := ranking.Rank(records, ranking.PreviousRanks(prev))

	if err := o.Sink.SaveUnifiedMetrics(asOf, ranked); err != nil {
		return nil, issues, helpers.NewPipelineError("metrics sink unwritable", err)
	}

	if o.RetentionDays > 0 {
		if err := o.Sink.CleanupOldData(o.RetentionDays); err != nil {
			o.Logger.Warning("Metrics retention cleanup failed: %v", err)
			issues = append(issues, fmt.Sprintf("retention cleanup failed: %v", err))
		}
	}

	if o.Exchanger != nil {
		payload := models.MLatestData{
			Type:      "UPDATE",
			Date:      asOf,
			Records:   make(map[string]models.MUnifiedMetrics, len(ranked)),
			Timestamp: o.Now().Unix(),
		}
		for _, r := range ranked {
			payload.Records[r.EntityID] = r
		}
		if run != nil {
			payload.Run = cloneRun(run)
			payload.Run.MetricsComputed = len(ranked)
		}
		o.Exchanger.Broadcast(payload)
	}

	return ranked, issues, nil
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) transition(run *models.MRefreshRun, status models.RunStatus) {
	run.Status = status
	o.persist(run)
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) fail(run *models.MRefreshRun, err error) {
	msg := err.Error()
	run.Error = &msg
	run.OverallSuccess = false
	run.MetricsComputed = 0
	o.Logger.Error("Refresh %s failed: %v", run.RunID, err)
	o.finish(run, models.RunFailed)
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) finish(run *models.MRefreshRun, status models.RunStatus) {
	end := o.Now().UTC()
	run.EndTime = &end
	run.DurationSeconds = core.Round2(end.Sub(run.StartTime).Seconds())
	sort.Strings(run.IntegrityIssues)
	o.transition(run, status)
}

// -----------------------------------------------------------------------------

// persist records the artifact in memory and in the run-status store.
func (o *Orchestrator) persist(run *models.MRefreshRun) {
	snapshot := cloneRun(run)
	o.mu.Lock()
	o.lastRun = snapshot
	o.mu.Unlock()

	if o.RunStore == nil {
		return
	}
	if err := o.RunStore.SaveRun(snapshot); err != nil {
		o.Logger.Error("Failed to persist run %s: %v", run.RunID, err)
	}
}

// -----------------------------------------------------------------------------

func cloneRun(run *models.MRefreshRun) *models.MRefreshRun {
	if run == nil {
		return nil
	}
	c := *run
	if run.EndTime != nil {
		end := *run.EndTime
		c.EndTime = &end
	}
	c.PhaseResults = make(map[string]*models.MPhaseResult, len(run.PhaseResults))
	for name, p := range run.PhaseResults {
		pc := *p
		if p.EntityErrors != nil {
			pc.EntityErrors = make(map[string]string, len(p.EntityErrors))
			for k, v := range p.EntityErrors {
				pc.EntityErrors[k] = v
			}
		}
		c.PhaseResults[name] = &pc
	}
	c.IntegrityIssues = append([]string(nil), run.IntegrityIssues...)
	return &c
}
