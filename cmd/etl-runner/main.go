// Command etl-runner is the pipeline's process entry point: it wires
// config, logging, source/target connections, and the scheduler, then runs
// until terminated by SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bionicpro/reports-etl/internal/adminhttp"
	"github.com/bionicpro/reports-etl/internal/config"
	"github.com/bionicpro/reports-etl/internal/invalidator"
	"github.com/bionicpro/reports-etl/internal/loader"
	"github.com/bionicpro/reports-etl/internal/logger"
	"github.com/bionicpro/reports-etl/internal/platform/clickhouse"
	"github.com/bionicpro/reports-etl/internal/platform/database"
	"github.com/bionicpro/reports-etl/internal/platform/redisutil"
	"github.com/bionicpro/reports-etl/internal/scheduler"
	"github.com/bionicpro/reports-etl/internal/sourceadapters"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "bionicpro-reports-etl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting bionicpro-reports-etl", zap.String("source_mode", string(cfg.SourceMode)))

	crmDB, err := database.Open(&cfg.CRM)
	if err != nil {
		log.Fatal("failed to connect to CRM database", zap.Error(err))
	}
	defer crmDB.Close()

	telemetryDB, err := database.Open(&cfg.Telemetry)
	if err != nil {
		log.Fatal("failed to connect to telemetry database", zap.Error(err))
	}
	defer telemetryDB.Close()

	martDB, err := clickhouse.Open(&cfg.Mart)
	if err != nil {
		log.Fatal("failed to connect to mart", zap.Error(err))
	}
	defer martDB.Close()

	redisClient := redisutil.NewClient(&cfg.Redis)
	if err := redisutil.Ping(context.Background(), redisClient); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	var referenceSrc sourceadapters.ReferenceSource
	switch cfg.SourceMode {
	case config.SourceModeReplica:
		referenceSrc = sourceadapters.NewCRMReplicaSource(crmDB)
	default:
		referenceSrc = sourceadapters.NewCRMSource(crmDB)
	}
	telemetrySrc := sourceadapters.NewTelemetrySource(telemetryDB)
	factLoader := loader.New(martDB, cfg.BatchSize)
	inv := invalidator.New(cfg.Invalidator, redisClient, log)

	runner := scheduler.New(cfg, log, referenceSrc, telemetrySrc, factLoader, inv, redisClient)

	tracker := adminhttp.NewStatusTracker()
	runner.OnResult(tracker.Record)

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminhttp.NewRouter(tracker, log),
	}
	go func() {
		log.Info("starting admin http server", zap.String("addr", cfg.AdminAddr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin http server error", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := runner.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("scheduler error", zap.Error(err))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down admin http server", zap.Error(err))
	}

	log.Info("bionicpro-reports-etl stopped")
}
