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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weather-archive/internal/app"
	"weather-archive/internal/config"
	"weather-archive/internal/handlers"
	"weather-archive/internal/repository"
	"weather-archive/internal/services"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "weather-archive-api")

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting weather archive API server", logging.Fields{
		"version":     app.Version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"archive":     cfg.Archive.BaseURL,
		"db_driver":   cfg.Database.Driver,
	})

	metricsCollector := metrics.NewCollector("weather_archive")

	stack, err := app.NewStack(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to configure archive client", logging.Fields{}, err)
	}

	var (
		persist  handlers.SinkFactory
		dbHealth handlers.HealthChecker
	)
	db, repo, err := app.OpenDatabase(ctx, cfg, logger, metricsCollector)
	if err != nil {
		logger.Warn(ctx, "[STARTUP_DB_UNAVAILABLE] Database unavailable, persistence disabled", logging.Fields{
			"driver": cfg.Database.Driver,
			"error":  err.Error(),
		})
	} else {
		defer db.Close()
		persist = func(runID string) services.Sink {
			return repository.NewSink(repo, runID)
		}
		dbHealth = repo
	}

	stationHandler := handlers.NewStationHandler(stack.Orchestrator, stack.Metadata, stack.Matcher, persist, dbHealth, logger, metricsCollector)

	router := mux.NewRouter()
	stationHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

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
