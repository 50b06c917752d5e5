package bootstrap

import (
	"context"
	"fmt"
	"time"

	"card-market-tracker/src/analysis"
	"card-market-tracker/src/catalog"
	"card-market-tracker/src/config"
	datasource "card-market-tracker/src/data_source"
	"card-market-tracker/src/data_source/browser"
	"card-market-tracker/src/data_source/scraperapi"
	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"
	"card-market-tracker/src/network"
	"card-market-tracker/src/orchestrator"
	"card-market-tracker/src/storage"
)

// SQLStore is what both SQL dialects provide: metrics sink, snapshot backend
// and catalog table on one connection.
type SQLStore interface {
	interfaces.IDatabase
	interfaces.IHistoryBackend
	interfaces.ICatalogProvider
	RegisterEntities(entities []models.MEntity) error
}

// Components is the wired pipeline shared by the daemon and the CLI.
type Components struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           SQLStore
	Store        *storage.HistoricalStore
	Catalog      interfaces.ICatalogProvider
	Resolver     *catalog.SharedResolver
	Network      *network.AsyncNetworkManager
	Sources      *datasource.MultiSourceManager
	Calculator   *analysis.MetricsCalculator
	Orchestrator *orchestrator.Orchestrator
}

// -----------------------------------------------------------------------------

// Build wires every component from the configuration.
func Build(conf *config.Config, appLogger *logger.Logger) (*Components, error) {
	cfg := conf.MConfig
	level := cfg.LogLevel

	db, err := setupDatabase(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	backend, err := setupHistoryBackend(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store := storage.NewHistoricalStore(backend, logger.NewLogger(level, "HistoricalStore"))

	provider := setupCatalog(cfg, db)
	resolver := catalog.NewSharedResolver()
	netMgr := network.NewAsyncNetworkManager(cfg, logger.NewLogger(level, "NetworkManager"))

	sources, err := setupDataSources(cfg, appLogger, netMgr, resolver)
	if err != nil {
		db.Close()
		return nil, err
	}

	calculator := analysis.NewMetricsCalculator(store, cfg, logger.NewLogger(level, "MetricsCalculator"))
	runStore := storage.NewFileRunStatusStore(cfg.Storage.RunStatusPath)

	orch := orchestrator.NewOrchestrator(provider, resolver, sources, store, calculator, db, runStore,
		logger.NewLogger(level, "Orchestrator"))
	orch.RetentionDays = cfg.Storage.RetentionDays

	return &Components{
		Config:       conf,
		Logger:       appLogger,
		DB:           db,
		Store:        store,
		Catalog:      provider,
		Resolver:     resolver,
		Network:      netMgr,
		Sources:      sources,
		Calculator:   calculator,
		Orchestrator: orch,
	}, nil
}

// -----------------------------------------------------------------------------

// setupDatabase initializes the database connection based on config
func setupDatabase(cfg *models.MConfig, appLogger *logger.Logger) (SQLStore, error) {
	var db SQLStore
	var err error

	switch cfg.Storage.DBType {
	case "postgres":
		db, err = storage.NewPostgresDB(cfg, logger.NewLogger(cfg.LogLevel, "PostgresDB"))
	default:
		db, err = storage.NewAsyncSQLiteDB(cfg, logger.NewLogger(cfg.LogLevel, "SQLiteDB"))
	}
	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return nil, err
	}
	// a database container may still be starting
	_, err = helpers.RetryWithBackoff(context.Background(), appLogger, "database initialize", 4, time.Second,
		func(context.Context) (struct{}, error) { return struct{}{}, db.Initialize() })
	if err != nil {
		appLogger.Error("Failed to migrate db: %v", err)
		return nil, fmt.Errorf("initialize %s database: %w", cfg.Storage.DBType, err)
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// sharedBackend lets the store use the SQL tables without closing the
// connection the sink still needs.
type sharedBackend struct {
	interfaces.IHistoryBackend
}

func (sharedBackend) Close() error { return nil }

// -----------------------------------------------------------------------------

func setupHistoryBackend(cfg *models.MConfig, db SQLStore) (interfaces.IHistoryBackend, error) {
	if cfg.Storage.HistoryBackend == "sql" {
		return sharedBackend{db}, nil
	}
	backend, err := storage.NewJSONFileBackend(cfg.Storage.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history at %s: %w", cfg.Storage.HistoryPath, err)
	}
	return backend, nil
}

// -----------------------------------------------------------------------------

func setupCatalog(cfg *models.MConfig, db SQLStore) interfaces.ICatalogProvider {
	if cfg.Catalog.Provider == "sql" {
		return db
	}
	return catalog.NewYAMLProvider(cfg.Catalog.Path)
}

// -----------------------------------------------------------------------------

// setupDataSources registers the enabled collectors in phase order: api, then browser.
func setupDataSources(cfg *models.MConfig, appLogger *logger.Logger, netMgr *network.AsyncNetworkManager, resolver interfaces.IResolver) (*datasource.MultiSourceManager, error) {
	var sources []interfaces.ICollector
	appLogger.Info("Initializing collectors...")

	if cfg.Collectors.API.Enabled {
		api := scraperapi.NewScraperAPISource(cfg.Collectors.API, netMgr, resolver, logger.NewLogger(cfg.LogLevel, "ScraperAPI"))
		sources = append(sources, api)
		appLogger.Info("Added collector: %s (concurrency %d)", api.Name(), api.MaxConcurrency())
	}

	if cfg.Collectors.Browser.Enabled {
		br := cfg.Collectors.Browser
		driver := browser.NewHTTPDriver(time.Duration(br.TimeoutSeconds)*time.Second, netMgr.ProxyManager, logger.NewLogger(cfg.LogLevel, "BrowserDriver"))
		src := browser.NewBrowserSource(br, driver, nil, logger.NewLogger(cfg.LogLevel, "Browser"))
		sources = append(sources, src)
		appLogger.Info("Added collector: %s (seed %d)", src.Name(), br.Seed)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no collectors enabled")
	}
	return datasource.NewMultiSourceManager(sources, logger.NewLogger(cfg.LogLevel, "Collectors")), nil
}

// -----------------------------------------------------------------------------

// LoadLatest reads the most recent published day from the sink, for seeding
// the server state at startup. It returns nil when nothing was published yet.
func (c *Components) LoadLatest() (*models.MLatestData, error) {
	date, err := c.DB.LatestMetricsDate()
	if err != nil || date == "" {
		return nil, err
	}
	records, err := c.DB.LoadUnifiedMetrics(date)
	if err != nil {
		return nil, err
	}

	state := &models.MLatestData{
		Type:      "INITIAL",
		Date:      date,
		Records:   make(map[string]models.MUnifiedMetrics, len(records)),
		Timestamp: time.Now().Unix(),
	}
	for _, r := range records {
		state.Records[r.EntityID] = r
	}
	if run, err := c.Orchestrator.LastRun(); err == nil {
		state.Run = run
	}
	return state, nil
}

// -----------------------------------------------------------------------------

// SyncCatalog copies the YAML catalog into the SQL entities table.
func (c *Components) SyncCatalog(ctx context.Context, path string) (int, error) {
	entities, err := catalog.NewYAMLProvider(path).LoadCatalog(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.DB.RegisterEntities(entities); err != nil {
		return 0, err
	}
	return len(entities), nil
}

// -----------------------------------------------------------------------------

// Close releases the collectors and storage.
func (c *Components) Close() {
	c.Sources.Stop()
	if err := c.Store.Close(); err != nil {
		c.Logger.Warning("Closing history store: %v", err)
	}
	if err := c.DB.Close(); err != nil {
		c.Logger.Warning("Closing database: %v", err)
	}
}
