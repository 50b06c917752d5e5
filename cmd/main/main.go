package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"card-market-tracker/src/bootstrap"
	"card-market-tracker/src/config"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/server"
	"card-market-tracker/src/utils"
)

// -----------------------------------------------------------------------------

func main() {

	// 1. Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name)
	defer appLogger.Sync()

	// 4. Setup Components
	app, err := bootstrap.Build(conf, appLogger)
	if err != nil {
		appLogger.Critical("Failed to wire components: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Network.ProxyListURL != "" {
		if n, err := app.Network.ProxyManager.RefreshProxies(ctx); err != nil {
			appLogger.Warning("Proxy list refresh failed: %v", err)
		} else {
			appLogger.Info("Loaded %d proxies", n)
		}
	}

	// 5. Server state from the last published day
	srv := server.NewMetricsServer(conf.MConfig, app.DB, app.Orchestrator, logger.NewLogger(conf.LogLevel, "MetricsServer"))
	latest, err := app.LoadLatest()
	if err != nil {
		appLogger.Warning("Could not load latest metrics: %v", err)
	} else if latest != nil {
		srv.UpdateAllDatas(*latest)
		appLogger.Info("Serving %d records from %s", len(latest.Records), latest.Date)
	}
	app.Orchestrator.SetExchanger(srv)

	// 6. Servers
	grpcServer := startServers(ctx, srv, app, appLogger)

	// 7. Schedule
	var scheduler *utils.RefreshScheduler
	if conf.Schedule.Enabled {
		scheduler, err = utils.NewRefreshScheduler(conf.Schedule.RefreshCron, conf.Schedule.Timezone,
			func(_ context.Context, asOf string) {
				if _, err := app.Orchestrator.Run(ctx, asOf); err != nil {
					appLogger.Error("Scheduled refresh for %s: %v", asOf, err)
				}
			}, logger.NewLogger(conf.LogLevel, "Scheduler"))
		if err != nil {
			appLogger.Critical("Failed to schedule refresh: %v", err)
		}
		scheduler.Start()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if scheduler != nil {
		scheduler.Stop(stopCtx)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Stop(); err != nil {
		appLogger.Warning("HTTP server shutdown: %v", err)
	}
}
