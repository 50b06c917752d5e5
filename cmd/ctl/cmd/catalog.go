package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var catalogFile string

func init() {
	catalogSyncCmd.Flags().StringVar(&catalogFile, "file", "", "YAML catalog to copy (default catalog.path from config)")
	catalogCmd.AddCommand(catalogSyncCmd)
	rootCmd.AddCommand(catalogCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manages the tracked entities.",
}

var catalogSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copies a YAML catalog into the database entities table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := catalogFile
		if path == "" {
			path = conf.Catalog.Path
		}
		if path == "" {
			return fmt.Errorf("no catalog file given")
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.SyncCatalog(cmd.Context(), path)
		if err != nil {
			return err
		}
		fmt.Printf("registered %d entities from %s\n", n, path)
		return nil
	},
}
