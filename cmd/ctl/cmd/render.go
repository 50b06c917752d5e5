package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"card-market-tracker/src/importer"
	"card-market-tracker/src/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderRun(out io.Writer, run *models.MRefreshRun) {
	fmt.Fprintf(out, "run %s  as_of %s  status %s  overall_success %v  %.2fs\n",
		run.RunID, run.AsOf, run.Status, run.OverallSuccess, run.DurationSeconds)
	if run.Error != nil {
		fmt.Fprintf(out, "error: %s\n", *run.Error)
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"Phase", "Completed", "Success", "Errors", "Error"})
	names := make([]string, 0, len(run.PhaseResults))
	for name := range run.PhaseResults {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := run.PhaseResults[name]
		t.AppendRow(table.Row{name, p.Completed, p.SuccessCount, p.ErrorCount, str(p.Error)})
	}
	t.AppendFooter(table.Row{"metrics", "", run.MetricsComputed, "", ""})
	t.Render()

	for _, issue := range run.IntegrityIssues {
		fmt.Fprintf(out, "integrity: %s\n", issue)
	}
}

func renderMetrics(out io.Writer, date string, records []models.MUnifiedMetrics) {
	fmt.Fprintf(out, "metrics for %s\n", date)

	sorted := make([]models.MUnifiedMetrics, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].CurrentRank, sorted[j].CurrentRank
		switch {
		case a == nil || b == nil:
			return a != nil
		default:
			return *a < *b
		}
	})

	t := newTable(out)
	t.AppendHeader(table.Row{"#", "Entity", "Floor", "Listings", "Daily vol", "7d", "30d", "30d SMA", "MoM %", "Added/day", "Δ rank"})
	for _, r := range sorted {
		t.AppendRow(table.Row{
			intStr(r.CurrentRank), r.EntityID, num(r.FloorPrice), intStr(r.ActiveListingsCount),
			num(r.UnifiedDailyVolume), num(r.UnifiedVolume7d), num(r.UnifiedVolume30d),
			num(r.UnifiedVolume30dSMA), num(r.VolumeMoMChangePct), num(r.AvgBoxesAddedPerDay), intStr(r.RankChange),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
		{Number: 10, Align: text.AlignRight},
		{Number: 11, Align: text.AlignRight},
	})
	t.Render()
}

func renderImport(out io.Writer, report *importer.MImportReport) {
	fmt.Fprintf(out, "rows %d  inserted %d  duplicates %d  corrected %d  rejected %d\n",
		report.Rows, report.Inserted, report.Duplicates, report.Corrected, len(report.Errors))
	if len(report.Errors) == 0 {
		return
	}
	t := newTable(out)
	t.AppendHeader(table.Row{"Row", "Problem"})
	for _, e := range report.Errors {
		t.AppendRow(table.Row{e.Row, e.Message})
	}
	t.Render()
}

func str(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func intStr(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
