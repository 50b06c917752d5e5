package cmd

import (
	"fmt"
	"os"

	"card-market-tracker/src/grpc_control"
	"card-market-tracker/src/models"
	"card-market-tracker/src/storage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statusRemote bool

func init() {
	statusCmd.Flags().BoolVar(&statusRemote, "remote", false, "ask the running daemon, including its collectors")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints the last refresh run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !statusRemote {
			run, err := storage.NewFileRunStatusStore(conf.Storage.RunStatusPath).LoadLastRun()
			if err != nil {
				return err
			}
			if run == nil {
				fmt.Println("no run recorded")
				return nil
			}
			renderRun(os.Stdout, run)
			return nil
		}

		client, err := grpc_control.NewControlClient(grpcAddr)
		if err != nil {
			return err
		}
		defer client.Close()

		sources, running, err := client.ListSources(cmd.Context())
		if err != nil {
			return err
		}
		t := newTable(os.Stdout)
		t.AppendHeader(table.Row{"Phase", "Collector", "Source", "Concurrency", "Timeout (s)"})
		for _, s := range sources {
			t.AppendRow(table.Row{s.Phase, s.Name, s.Source, s.MaxConcurrency, s.TimeoutSeconds})
		}
		t.Render()
		if running {
			fmt.Println("a refresh is running")
		}

		var run *models.MRefreshRun
		if run, err = client.GetLastRun(cmd.Context()); err != nil {
			return err
		}
		renderRun(os.Stdout, run)
		return nil
	},
}
