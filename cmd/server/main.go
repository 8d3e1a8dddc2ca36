package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"mobility-rollups/internal/config"
	"mobility-rollups/internal/handlers"
	"mobility-rollups/internal/repository"
	"mobility-rollups/internal/services"
	"mobility-rollups/pkg/database"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
	"mobility-rollups/pkg/tracing"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("mobility-api", version, logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting snapshot API server", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_host":     cfg.Database.Host,
		"db_name":     cfg.Database.Database,
		"schema":      cfg.Database.Schema,
	})

	shutdownTracing, err := tracing.InitTracing(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    "mobility-api",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to initialize tracing", logging.Fields{}, err)
	}
	defer shutdownTracing(context.Background())

	metricsCollector := metrics.NewCollector("mobility_api")

	db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	legRepo := repository.NewLegRepository(db, cfg.Database.Schema, logger, metricsCollector)
	rollupRepo := repository.NewRollupRepository(db, cfg.Database.Schema, logger, metricsCollector)

	snapshotService := services.NewSnapshotService(rollupRepo, legRepo, logger, metricsCollector)
	snapshotHandler := handlers.NewSnapshotHandler(snapshotService, logger, metricsCollector)

	router := mux.NewRouter()
	snapshotHandler.RegisterRoutes(router)
	router.Handle("/metrics", metricsCollector.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
