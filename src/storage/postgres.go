package storage

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	_ "github.com/lib/pq"
)

var schemaSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// -----------------------------------------------------------------------------

// PostgresDB keeps every table inside a schema named after the application.
type PostgresDB struct {
	sqlTables
	Config *models.MConfig
	Schema string
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	name := schemaSanitizer.ReplaceAllString(strings.ToLower(cfg.Name), "_")
	if name == "" {
		return nil, fmt.Errorf("cannot derive a schema name from %q", cfg.Name)
	}

	d := &PostgresDB{
		Config: cfg,
		Schema: name,
	}
	d.sqlTables = sqlTables{
		Logger:      log,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		table:       func(t string) string { return fmt.Sprintf(`"%s"."%s"`, name, t) },
	}
	return d, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	statements := []struct{ name, ddl string }{
		{"snapshots", `
			CREATE TABLE IF NOT EXISTS %s (
				entity_id TEXT NOT NULL,
				date TEXT NOT NULL,
				source TEXT NOT NULL,
				data_type TEXT NOT NULL,
				floor_price DOUBLE PRECISION,
				active_listings_count INTEGER,
				units_sold_today INTEGER,
				units_sold_lifetime_total BIGINT,
				daily_volume DOUBLE PRECISION,
				captured_at TEXT NOT NULL,
				PRIMARY KEY (entity_id, date, source)
			);`},
		{"unified_metrics", `
			CREATE TABLE IF NOT EXISTS %s (
				entity_id TEXT NOT NULL,
				date TEXT NOT NULL,
				floor_price DOUBLE PRECISION,
				active_listings_count INTEGER,
				unified_daily_volume DOUBLE PRECISION,
				unified_volume_7d DOUBLE PRECISION,
				unified_volume_30d DOUBLE PRECISION,
				unified_volume_30d_sma DOUBLE PRECISION,
				volume_mom_change_pct DOUBLE PRECISION,
				avg_boxes_added_per_day DOUBLE PRECISION,
				units_sold_lifetime_total BIGINT,
				current_rank INTEGER,
				previous_rank INTEGER,
				rank_change INTEGER,
				days_with_volume_30d INTEGER NOT NULL DEFAULT 0,
				computed_at TEXT NOT NULL,
				PRIMARY KEY (entity_id, date)
			);`},
		{"entities", `
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				alias_key TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL
			);`},
	}

	for _, st := range statements {
		if _, err := d.DB.Exec(fmt.Sprintf(st.ddl, d.table(st.name))); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}
	return nil
}
