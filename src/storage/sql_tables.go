package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"card-market-tracker/src/catalog"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"
	"card-market-tracker/src/utils"
)

// sqlTables holds the queries shared by the SQLite and Postgres stores.
// The dialect only decides placeholders and table qualification.
type sqlTables struct {
	DB     *sql.DB
	Logger *logger.Logger

	placeholder func(n int) string
	table       func(name string) string
}

const snapshotColumns = `entity_id, date, source, data_type, floor_price, active_listings_count,
	units_sold_today, units_sold_lifetime_total, daily_volume, captured_at`

const metricsColumns = `entity_id, date, floor_price, active_listings_count, unified_daily_volume,
	unified_volume_7d, unified_volume_30d, unified_volume_30d_sma, volume_mom_change_pct,
	avg_boxes_added_per_day, units_sold_lifetime_total, current_rank, previous_rank, rank_change,
	days_with_volume_30d, computed_at`

// -----------------------------------------------------------------------------

func (t *sqlTables) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = t.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// -----------------------------------------------------------------------------
// Snapshot partitions (IHistoryBackend)
// -----------------------------------------------------------------------------

func (t *sqlTables) LoadEntity(entityID string) ([]models.MSnapshot, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE entity_id = %s ORDER BY date`,
		snapshotColumns, t.table("snapshots"), t.placeholder(1))

	rows, err := t.DB.Query(query, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MSnapshot
	for rows.Next() {
		var (
			snap                          models.MSnapshot
			source, dataType, capturedAt  string
			floor, volume                 sql.NullFloat64
			listings, soldToday, lifetime sql.NullInt64
		)
		if err := rows.Scan(&snap.EntityID, &snap.Date, &source, &dataType, &floor, &listings,
			&soldToday, &lifetime, &volume, &capturedAt); err != nil {
			return nil, err
		}
		snap.Source = models.SnapshotSource(source)
		snap.DataType = models.DataType(dataType)
		snap.FloorPrice = floatPtr(floor)
		snap.DailyVolume = floatPtr(volume)
		snap.ActiveListingsCount = intPtr(listings)
		snap.UnitsSoldToday = intPtr(soldToday)
		snap.UnitsSoldLifetimeTotal = intPtr(lifetime)
		snap.CapturedAt = parseTimestamp(capturedAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

// SaveEntity rewrites the entity's partition in one transaction.
func (t *sqlTables) SaveEntity(entityID string, snapshots []models.MSnapshot) error {
	tx, err := t.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := fmt.Sprintf(`DELETE FROM %s WHERE entity_id = %s`, t.table("snapshots"), t.placeholder(1))
	if _, err := tx.Exec(del, entityID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		t.table("snapshots"), snapshotColumns, t.placeholders(10)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range snapshots {
		_, err := stmt.Exec(s.EntityID, s.Date, string(s.Source), string(s.DataType),
			nullFloat(s.FloorPrice), nullInt(s.ActiveListingsCount), nullInt(s.UnitsSoldToday),
			nullInt(s.UnitsSoldLifetimeTotal), nullFloat(s.DailyVolume), formatTimestamp(s.CapturedAt))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (t *sqlTables) EntityIDs() ([]string, error) {
	return t.queryStrings(fmt.Sprintf(`SELECT DISTINCT entity_id FROM %s ORDER BY entity_id`, t.table("snapshots")))
}

// -----------------------------------------------------------------------------
// Unified metrics sink (IDatabase)
// -----------------------------------------------------------------------------

func (t *sqlTables) SaveUnifiedMetrics(date string, records []models.MUnifiedMetrics) error {
	tx, err := t.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := fmt.Sprintf(`DELETE FROM %s WHERE date = %s`, t.table("unified_metrics"), t.placeholder(1))
	if _, err := tx.Exec(del, date); err != nil {
		return err
	}

	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		t.table("unified_metrics"), metricsColumns, t.placeholders(16)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if r.Date != date {
			return fmt.Errorf("record %s is dated %s, expected %s", r.EntityID, r.Date, date)
		}
		_, err := stmt.Exec(r.EntityID, r.Date, nullFloat(r.FloorPrice), nullInt(r.ActiveListingsCount),
			nullFloat(r.UnifiedDailyVolume), nullFloat(r.UnifiedVolume7d), nullFloat(r.UnifiedVolume30d),
			nullFloat(r.UnifiedVolume30dSMA), nullFloat(r.VolumeMoMChangePct), nullFloat(r.AvgBoxesAddedPerDay),
			nullInt(r.UnitsSoldLifetimeTotal), nullInt(r.CurrentRank), nullInt(r.PreviousRank), nullInt(r.RankChange),
			r.DaysWithVolume30d, formatTimestamp(r.ComputedAt))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (t *sqlTables) LoadUnifiedMetrics(date string) ([]models.MUnifiedMetrics, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE date = %s ORDER BY current_rank IS NULL, current_rank, entity_id`,
		metricsColumns, t.table("unified_metrics"), t.placeholder(1))

	rows, err := t.DB.Query(query, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MUnifiedMetrics
	for rows.Next() {
		var (
			r                                      models.MUnifiedMetrics
			floor, daily, v7, v30, sma, mom, added sql.NullFloat64
			listings, lifetime, cur, prev, change  sql.NullInt64
			computedAt                             string
		)
		if err := rows.Scan(&r.EntityID, &r.Date, &floor, &listings, &daily, &v7, &v30, &sma, &mom, &added,
			&lifetime, &cur, &prev, &change, &r.DaysWithVolume30d, &computedAt); err != nil {
			return nil, err
		}
		r.FloorPrice = floatPtr(floor)
		r.ActiveListingsCount = intPtr(listings)
		r.UnifiedDailyVolume = floatPtr(daily)
		r.UnifiedVolume7d = floatPtr(v7)
		r.UnifiedVolume30d = floatPtr(v30)
		r.UnifiedVolume30dSMA = floatPtr(sma)
		r.VolumeMoMChangePct = floatPtr(mom)
		r.AvgBoxesAddedPerDay = floatPtr(added)
		r.UnitsSoldLifetimeTotal = intPtr(lifetime)
		r.CurrentRank = intPtr(cur)
		r.PreviousRank = intPtr(prev)
		r.RankChange = intPtr(change)
		r.ComputedAt = parseTimestamp(computedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

func (t *sqlTables) LatestMetricsDate() (string, error) {
	var latest sql.NullString
	err := t.DB.QueryRow(fmt.Sprintf(`SELECT MAX(date) FROM %s`, t.table("unified_metrics"))).Scan(&latest)
	if err != nil {
		return "", err
	}
	return latest.String, nil
}

// -----------------------------------------------------------------------------

// CleanupOldData trims the metrics sink; the snapshot log is never trimmed.
func (t *sqlTables) CleanupOldData(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := utils.AddDays(utils.Today(), -retentionDays)
	t.Logger.Info("Cleaning up metrics older than %d days (date < %s)...", retentionDays, cutoff)

	res, err := t.DB.Exec(fmt.Sprintf(`DELETE FROM %s WHERE date < %s`, t.table("unified_metrics"), t.placeholder(1)), cutoff)
	if err != nil {
		return fmt.Errorf("cleanup unified_metrics: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		t.Logger.Info("Cleanup completed (%d rows)", n)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Catalog table (ICatalogProvider)
// -----------------------------------------------------------------------------

// LoadCatalog reads the entities table in registration order.
func (t *sqlTables) LoadCatalog(ctx context.Context) ([]models.MEntity, error) {
	query := fmt.Sprintf(`SELECT id, display_name, alias_key, created_at FROM %s ORDER BY created_at, id`, t.table("entities"))

	rows, err := t.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MEntity
	for rows.Next() {
		var e models.MEntity
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DisplayName, &e.AliasKey, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTimestamp(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("entities table is empty")
	}
	if err := catalog.ValidateEntities(out); err != nil {
		return nil, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// RegisterEntities upserts catalog entries. Only display_name may change for an existing id.
func (t *sqlTables) RegisterEntities(entities []models.MEntity) error {
	if len(entities) == 0 {
		return nil
	}
	if err := catalog.ValidateEntities(entities); err != nil {
		return err
	}

	tx, err := t.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s (id, display_name, alias_key, created_at)
		VALUES (%s)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name
	`, t.table("entities"), t.placeholders(4)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entities {
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := stmt.Exec(e.ID, e.DisplayName, e.AliasKey, formatTimestamp(created)); err != nil {
			return fmt.Errorf("register entity %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (t *sqlTables) queryStrings(query string, args ...interface{}) ([]string, error) {
	rows, err := t.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

func (t *sqlTables) Close() error {
	if t.DB != nil {
		return t.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Nullable column helpers
// -----------------------------------------------------------------------------

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
