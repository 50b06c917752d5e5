package cmd

import (
	"fmt"
	"os"

	"card-market-tracker/src/bootstrap"
	"card-market-tracker/src/config"
	"card-market-tracker/src/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	grpcAddr   string

	conf      *config.Config
	appLogger *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ctl",
	Short: "ctl operates the card market tracker: refresh runs, status, imports and metrics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		conf, err = config.NewConfig(configPath)
		if err != nil {
			return err
		}
		appLogger = logger.NewLogger(conf.LogLevel, "ctl")
		if grpcAddr == "" {
			grpcAddr = fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/default.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", "", "control address of a running daemon (default from config)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp wires the local pipeline; callers must Close it.
func openApp() (*bootstrap.Components, error) {
	return bootstrap.Build(conf, appLogger)
}
