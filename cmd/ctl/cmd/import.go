package cmd

import (
	"os"

	"card-market-tracker/src/importer"
	"card-market-tracker/src/logger"

	"github.com/spf13/cobra"
)

var (
	importCorrect   bool
	importRecompute bool
	importSheet     string
)

func init() {
	importCmd.Flags().BoolVar(&importCorrect, "correct", false, "replace snapshots with the same entity, date and source")
	importCmd.Flags().BoolVar(&importRecompute, "recompute", false, "recompute metrics and ranks for the imported dates")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet to read (default first sheet)")
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <file.csv|file.xlsx>",
	Short: "Backfills manual_import snapshots from a CSV or XLSX file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		entities, err := app.Catalog.LoadCatalog(ctx)
		if err != nil {
			return err
		}
		if err := app.Resolver.Update(entities); err != nil {
			return err
		}

		imp := importer.NewImporter(app.Store, app.Resolver, entities, logger.NewLogger(conf.LogLevel, "Importer"))
		report, err := imp.ImportFile(ctx, args[0], importer.Options{Correct: importCorrect, Sheet: importSheet})
		if err != nil {
			return err
		}
		renderImport(os.Stdout, report)

		if !importRecompute {
			return nil
		}
		for _, date := range report.Dates {
			records, issues, err := app.Orchestrator.Recompute(ctx, date)
			if err != nil {
				return err
			}
			for _, issue := range issues {
				appLogger.Warning("%s: %s", date, issue)
			}
			renderMetrics(os.Stdout, date, records)
		}
		return nil
	},
}
