package main

import (
	"context"
	"fmt"
	"net"

	"card-market-tracker/src/bootstrap"
	"card-market-tracker/src/grpc_control"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/server"

	"google.golang.org/grpc"
)

// -----------------------------------------------------------------------------

// startServers starts the HTTP read API and, when configured, the gRPC control server.
func startServers(ctx context.Context, srv *server.MetricsServer, app *bootstrap.Components, appLogger *logger.Logger) *grpc.Server {

	// 1. MetricsServer
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// 2. gRPC Control Server
	conf := app.Config
	if conf.GrpcPort == 0 {
		appLogger.Info("gRPC control disabled (grpc_port is 0)")
		return nil
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort))
	if err != nil {
		appLogger.Error("failed to listen for gRPC: %v", err)
		return nil
	}

	grpcServer := grpc.NewServer()
	controlService := grpc_control.NewControlService(ctx, app.Orchestrator, app.Sources, logger.NewLogger(conf.LogLevel, "ControlService"))
	grpc_control.RegisterRefreshControlServer(grpcServer, controlService)

	go func() {
		appLogger.Info("Starting gRPC Control Server on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("failed to serve gRPC: %v", err)
		}
	}()
	return grpcServer
}
