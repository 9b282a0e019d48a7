package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/service/maintenance"
	"github.com/vertextoedge/rangefetch/internal/service/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download engine with the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}
}

func (a *app) serve() error {
	cfg := a.cfg
	zapLogger := a.logger
	zapLogger.Info("starting rangefetch",
		zap.String("version", version),
		zap.String("config", a.configPath),
	)

	store, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	stack, err := buildEngine(cfg, store, wireOptions{asyncEvents: true}, zapLogger)
	if err != nil {
		return err
	}
	defer stack.client.CloseIdleConnections()

	// Create maintenance service
	maintenanceService := maintenance.New(
		maintenance.ConfigFrom(cfg),
		store,
		stack.files,
		stack.manager,
		zapLogger.Named("maintenance"),
	)

	// Create HTTP server
	httpServer := server.New(server.ConfigFrom(cfg), stack.manager, store, maintenanceService, zapLogger.Named("http"))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	// Start maintenance service
	go func() {
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("download_dir", stack.files.RootDir()),
	)

	var runErr error
	select {
	case <-sigChan:
		zapLogger.Info("shutdown signal received, stopping services...")
	case runErr = <-serverErr:
		if runErr != nil {
			zapLogger.Error("HTTP server failed", zap.Error(runErr))
		}
	}

	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	maintenanceService.Stop()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	if err := stack.manager.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop download engine", zap.Error(err))
	}
	stack.events.Wait()

	zapLogger.Info("application stopped successfully")
	return runErr
}
