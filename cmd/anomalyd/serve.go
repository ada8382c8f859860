package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fidde/log_anomaly_detector/internal/api"
	"github.com/fidde/log_anomaly_detector/internal/pipeline"
	"github.com/fidde/log_anomaly_detector/internal/receiver"
	"github.com/fidde/log_anomaly_detector/internal/storage/backend"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API and OTLP log receivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	store, err := backend.NewStorage(ctx, cfg.StorageConfig(), logger)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing storage")
		if err := store.Close(); err != nil {
			logger.Error("error closing storage", "error", err)
		}
	}()

	pipe := pipeline.New(store, pipeline.Options{
		Ticketer:           a.ticketer(),
		Notifier:           a.notifier(),
		Logger:             logger,
		IncidentsPerSecond: cfg.Dispatch.IncidentsPerSecond,
		Burst:              cfg.Dispatch.Burst,
	})

	httpReceiver := receiver.NewHTTPReceiver(cfg.Server.OTLPHTTPAddr, store, logger)
	grpcReceiver := receiver.NewGRPCReceiver(cfg.Server.OTLPGRPCAddr, store, logger)
	apiServer := api.NewServer(api.Config{
		Addr:     cfg.Server.APIAddr,
		Store:    store,
		Pipeline: pipe,
		Detector: cfg.DetectorConfig(),
		Logger:   logger,
	})

	// Start servers in goroutines
	errChan := make(chan error, 3)

	go func() {
		if err := httpReceiver.Start(); err != nil {
			errChan <- fmt.Errorf("OTLP HTTP receiver error: %w", err)
		}
	}()

	go func() {
		if err := grpcReceiver.Start(); err != nil {
			errChan <- fmt.Errorf("OTLP gRPC receiver error: %w", err)
		}
	}()

	go func() {
		if err := apiServer.Start(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case serveErr = <-errChan:
		logger.Error("server failed", "error", serveErr)
	case <-sigCtx.Done():
		logger.Info("received shutdown signal")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down servers")
	if err := httpReceiver.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down OTLP HTTP receiver", "error", err)
	}
	if err := grpcReceiver.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down OTLP gRPC receiver", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down API server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}
