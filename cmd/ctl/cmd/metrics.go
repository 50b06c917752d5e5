package cmd

import (
	"fmt"
	"os"

	"card-market-tracker/src/utils"

	"github.com/spf13/cobra"
)

var metricsDate string

func init() {
	metricsCmd.Flags().StringVar(&metricsDate, "date", "", "day to print (YYYY-MM-DD, default latest published)")
	rootCmd.AddCommand(metricsCmd)
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Prints the ranked unified metrics of one day.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if metricsDate != "" && !utils.ValidDate(metricsDate) {
			return fmt.Errorf("invalid date %q", metricsDate)
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		date := metricsDate
		if date == "" {
			if date, err = app.DB.LatestMetricsDate(); err != nil {
				return err
			}
			if date == "" {
				fmt.Println("no metrics published yet")
				return nil
			}
		}

		records, err := app.DB.LoadUnifiedMetrics(date)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("no metrics for %s", date)
		}
		renderMetrics(os.Stdout, date, records)
		return nil
	},
}
