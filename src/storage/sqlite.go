package storage

import (
	"database/sql"
	"fmt"

	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

// AsyncSQLiteDB serves as metrics sink, snapshot backend and catalog table on one SQLite file.
type AsyncSQLiteDB struct {
	sqlTables
	Config *models.MConfig
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &AsyncSQLiteDB{
		sqlTables: sqlTables{
			Logger:      log,
			placeholder: func(int) string { return "?" },
			table:       func(name string) string { return name },
		},
		Config: cfg,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	// every connection to ":memory:" would get its own empty database
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		d.Logger.Warning("Failed to set busy timeout: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	// SQLite types: INTEGER for int, REAL for float64, TEXT for dates and timestamps
	statements := []struct{ name, ddl string }{
		{"snapshots", `
			CREATE TABLE IF NOT EXISTS snapshots (
				entity_id TEXT NOT NULL,
				date TEXT NOT NULL,
				source TEXT NOT NULL,
				data_type TEXT NOT NULL,
				floor_price REAL,
				active_listings_count INTEGER,
				units_sold_today INTEGER,
				units_sold_lifetime_total INTEGER,
				daily_volume REAL,
				captured_at TEXT NOT NULL,
				PRIMARY KEY (entity_id, date, source)
			);`},
		{"unified_metrics", `
			CREATE TABLE IF NOT EXISTS unified_metrics (
				entity_id TEXT NOT NULL,
				date TEXT NOT NULL,
				floor_price REAL,
				active_listings_count INTEGER,
				unified_daily_volume REAL,
				unified_volume_7d REAL,
				unified_volume_30d REAL,
				unified_volume_30d_sma REAL,
				volume_mom_change_pct REAL,
				avg_boxes_added_per_day REAL,
				units_sold_lifetime_total INTEGER,
				current_rank INTEGER,
				previous_rank INTEGER,
				rank_change INTEGER,
				days_with_volume_30d INTEGER NOT NULL DEFAULT 0,
				computed_at TEXT NOT NULL,
				PRIMARY KEY (entity_id, date)
			);`},
		{"entities", `
			CREATE TABLE IF NOT EXISTS entities (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				alias_key TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL
			);`},
	}

	for _, st := range statements {
		if _, err := d.DB.Exec(st.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}
	if _, err := d.DB.Exec(`CREATE INDEX IF NOT EXISTS idx_unified_metrics_date ON unified_metrics (date)`); err != nil {
		return fmt.Errorf("failed to index unified_metrics: %w", err)
	}
	return nil
}
