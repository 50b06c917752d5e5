package cmd

import (
	"context"
	"fmt"
	"os"

	"card-market-tracker/src/grpc_control"
	"card-market-tracker/src/models"

	"github.com/spf13/cobra"
)

var (
	refreshAsOf   string
	refreshRemote bool
)

func init() {
	refreshCmd.Flags().StringVar(&refreshAsOf, "as-of", "", "calendar day to refresh (YYYY-MM-DD, default today UTC)")
	refreshCmd.Flags().BoolVar(&refreshRemote, "remote", false, "ask the running daemon instead of running locally")
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Runs one refresh: collect, store, compute, rank and publish.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var run *models.MRefreshRun
		var err error
		if refreshRemote {
			run, err = remoteRefresh(cmd.Context())
		} else {
			run, err = localRefresh(cmd.Context())
		}
		if run != nil {
			renderRun(os.Stdout, run)
		}
		if err != nil {
			return err
		}
		if run.Status == models.RunFailed {
			return fmt.Errorf("refresh %s failed", run.RunID)
		}
		return nil
	},
}

func localRefresh(ctx context.Context) (*models.MRefreshRun, error) {
	app, err := openApp()
	if err != nil {
		return nil, err
	}
	defer app.Close()
	return app.Orchestrator.Run(ctx, refreshAsOf)
}

func remoteRefresh(ctx context.Context) (*models.MRefreshRun, error) {
	client, err := grpc_control.NewControlClient(grpcAddr)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.TriggerRefresh(ctx, refreshAsOf)
}
