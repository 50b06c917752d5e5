package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	datasource "card-market-tracker/src/data_source"
	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"
	"card-market-tracker/src/storage"
	"card-market-tracker/src/utils"

	"github.com/xuri/excelize/v2"
)

// Recognized header columns. Either entity_id or label must be present.
const (
	ColEntityID      = "entity_id"
	ColLabel         = "label"
	ColDate          = "date"
	ColFloorPrice    = "floor_price"
	ColListings      = "active_listings_count"
	ColSoldToday     = "units_sold_today"
	ColLifetimeTotal = "units_sold_lifetime_total"
	ColDailyVolume   = "daily_volume"
)

// Options tunes one import.
type Options struct {
	Correct bool   // replace records with the same key instead of ignoring them
	Sheet   string // XLSX sheet, first sheet when empty
}

// MRowError reports one rejected row; Row is 1-based and counts the header.
type MRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// MImportReport summarizes an import.
type MImportReport struct {
	Rows       int         `json:"rows"`
	Inserted   int         `json:"inserted"`
	Duplicates int         `json:"duplicates"`
	Corrected  int         `json:"corrected"`
	Errors     []MRowError `json:"errors"`
	Dates      []string    `json:"dates"` // distinct dates touched, ascending
}

// SnapshotWriter is the part of the snapshot store the importer writes through.
type SnapshotWriter interface {
	AppendBatch(snaps []models.MSnapshot) (storage.MBatchResult, error)
	Correct(snap models.MSnapshot) (bool, error)
}

// Importer turns spreadsheet rows into manual_import snapshots.
type Importer struct {
	Store    SnapshotWriter
	Resolver interfaces.IResolver
	Known    map[string]bool // catalog entity ids
	Logger   *logger.Logger
	Now      func() time.Time
}

// -----------------------------------------------------------------------------

func NewImporter(store SnapshotWriter, resolver interfaces.IResolver, entities []models.MEntity, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	known := make(map[string]bool, len(entities))
	for _, e := range entities {
		known[e.ID] = true
	}
	return &Importer{Store: store, Resolver: resolver, Known: known, Logger: log, Now: time.Now}
}

// -----------------------------------------------------------------------------

// ImportFile reads a .csv or .xlsx file and imports its rows.
func (im *Importer) ImportFile(ctx context.Context, path string, opts Options) (*MImportReport, error) {
	rows, err := ReadRows(path, opts.Sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s has no header row", path)
	}
	return im.ImportRows(ctx, rows[0], rows[1:], opts)
}

// -----------------------------------------------------------------------------

// ReadRows returns every row of the file, header included.
func ReadRows(path, sheet string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readCSV(f)

	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()

		if sheet == "" {
			sheets := f.GetSheetList()
			if len(sheets) == 0 {
				return nil, errors.New("workbook has no sheets")
			}
			sheet = sheets[0]
		}
		return f.GetRows(sheet)

	default:
		return nil, fmt.Errorf("unsupported import format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// -----------------------------------------------------------------------------

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader.ReadAll()
}

// -----------------------------------------------------------------------------

// ImportRows maps and stores the rows. Bad rows are reported, never fatal;
// only a store failure aborts the import.
func (im *Importer) ImportRows(ctx context.Context, header []string, rows [][]string, opts Options) (*MImportReport, error) {
	cols := indexHeader(header)
	if _, ok := cols[ColDate]; !ok {
		return nil, fmt.Errorf("header has no %q column", ColDate)
	}
	_, hasID := cols[ColEntityID]
	_, hasLabel := cols[ColLabel]
	if !hasID && !hasLabel {
		return nil, fmt.Errorf("header needs %q or %q", ColEntityID, ColLabel)
	}

	report := &MImportReport{}
	dates := make(map[string]bool)
	var snaps []models.MSnapshot
	rowNumbers := make(map[string]int) // snapshot key -> row, for store rejections

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rowNum := i + 2
		if blank(row) {
			continue
		}
		report.Rows++

		snap, err := im.rowToSnapshot(cols, row)
		if err != nil {
			report.Errors = append(report.Errors, MRowError{Row: rowNum, Message: err.Error()})
			continue
		}
		if prev, dup := rowNumbers[snap.Key()]; dup {
			report.Errors = append(report.Errors, MRowError{Row: rowNum, Message: fmt.Sprintf("same entity and date as row %d", prev)})
			continue
		}
		rowNumbers[snap.Key()] = rowNum
		snaps = append(snaps, snap)
		dates[snap.Date] = true
	}

	if opts.Correct {
		for _, snap := range snaps {
			replaced, err := im.Store.Correct(snap)
			if err != nil {
				var ie *helpers.IntegrityError
				if errors.As(err, &ie) {
					report.Errors = append(report.Errors, MRowError{Row: rowNumbers[snap.Key()], Message: err.Error()})
					continue
				}
				return report, err
			}
			if replaced {
				report.Corrected++
			} else {
				report.Inserted++
			}
		}
	} else {
		batch, err := im.Store.AppendBatch(snaps)
		if err != nil {
			return report, err
		}
		report.Inserted = batch.Inserted
		report.Duplicates = batch.Duplicates
		for k, rejected := range batch.Rejected {
			row := rowNumbers[snaps[batch.RejectedAt[k]].Key()]
			report.Errors = append(report.Errors, MRowError{Row: row, Message: rejected.Error()})
		}
	}

	for d := range dates {
		report.Dates = append(report.Dates, d)
	}
	sort.Strings(report.Dates)
	sort.SliceStable(report.Errors, func(a, b int) bool { return report.Errors[a].Row < report.Errors[b].Row })

	im.Logger.Info("Imported %d rows: %d inserted, %d duplicates, %d corrected, %d errors",
		report.Rows, report.Inserted, report.Duplicates, report.Corrected, len(report.Errors))
	return report, nil
}

// -----------------------------------------------------------------------------

func (im *Importer) rowToSnapshot(cols map[string]int, row []string) (models.MSnapshot, error) {
	entityID, err := im.resolveEntity(cols, row)
	if err != nil {
		return models.MSnapshot{}, err
	}

	date := cell(cols, row, ColDate)
	if !utils.ValidDate(date) {
		return models.MSnapshot{}, fmt.Errorf("malformed date %q (want YYYY-MM-DD)", date)
	}

	snap := models.MSnapshot{
		EntityID:   entityID,
		Date:       date,
		Source:     models.SourceManualImport,
		CapturedAt: im.Now().UTC(),
	}

	var bad []string
	snap.FloorPrice = floatCell(cols, row, ColFloorPrice, &bad)
	snap.ActiveListingsCount = intCell(cols, row, ColListings, &bad)
	snap.UnitsSoldToday = intCell(cols, row, ColSoldToday, &bad)
	snap.UnitsSoldLifetimeTotal = intCell(cols, row, ColLifetimeTotal, &bad)
	snap.DailyVolume = floatCell(cols, row, ColDailyVolume, &bad)

	if len(bad) > 0 {
		return models.MSnapshot{}, fmt.Errorf("not a valid number: %s", strings.Join(bad, ", "))
	}
	if snap.IsEmpty() {
		return models.MSnapshot{}, errors.New("row has no figures")
	}
	snap.DataType = snap.InferDataType()
	return snap, nil
}

// -----------------------------------------------------------------------------

func (im *Importer) resolveEntity(cols map[string]int, row []string) (string, error) {
	if id := cell(cols, row, ColEntityID); id != "" {
		if len(im.Known) > 0 && !im.Known[id] {
			return "", fmt.Errorf("unknown entity id %q", id)
		}
		return id, nil
	}

	label := cell(cols, row, ColLabel)
	if label == "" {
		return "", errors.New("row has neither entity_id nor label")
	}
	if im.Resolver == nil {
		return "", fmt.Errorf("cannot resolve label %q without a catalog", label)
	}
	id, ok := im.Resolver.Resolve(label)
	if !ok {
		return "", fmt.Errorf("label %q matches no catalog entity", label)
	}
	return id, nil
}

// -----------------------------------------------------------------------------

func indexHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := cols[key]; !seen && key != "" {
			cols[key] = i
		}
	}
	return cols
}

// -----------------------------------------------------------------------------

func cell(cols map[string]int, row []string, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// -----------------------------------------------------------------------------

// floatCell treats an empty cell as absent and a non-numeric one as an error.
func floatCell(cols map[string]int, row []string, name string, bad *[]string) *float64 {
	raw := cell(cols, row, name)
	if raw == "" {
		return nil
	}
	v := datasource.ParseFloatField(raw)
	if v == nil {
		*bad = append(*bad, fmt.Sprintf("%s=%q", name, raw))
	}
	return v
}

func intCell(cols map[string]int, row []string, name string, bad *[]string) *int {
	raw := cell(cols, row, name)
	if raw == "" {
		return nil
	}
	v := datasource.ParseIntField(raw)
	if v == nil {
		*bad = append(*bad, fmt.Sprintf("%s=%q", name, raw))
	}
	return v
}

// -----------------------------------------------------------------------------

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
