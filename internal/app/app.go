// Package app assembles the archive client stack from configuration.
package app

import (
	"context"
	"net/http"

	"weather-archive/internal/archive"
	"weather-archive/internal/config"
	"weather-archive/internal/repository"
	"weather-archive/internal/services"
	"weather-archive/pkg/database"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// Version is reported in every log line
const Version = "1.0.0"

// Stack is the wired archive client
type Stack struct {
	URLs         archive.URLBuilder
	Metadata     *services.MetadataCache
	Matcher      *services.SpatialMatcher
	Orchestrator *services.DownloadOrchestrator
}

// NewLogger builds the service logger for cfg
func NewLogger(cfg *config.Config, service string) *logging.StructuredLogger {
	return logging.New(cfg.AppEnv, service, Version, logging.ParseLevel(cfg.Logging.Level))
}

// NewStack wires transport, fetcher, cache, matcher and orchestrator.
// Missing credentials fail here, before any request is made.
func NewStack(cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*Stack, error) {
	client := &http.Client{Timeout: cfg.Transport.Timeout}

	tokens, err := archive.NewTokenSource(client, cfg.Archive.AuthURL, archive.Credentials{
		Principal: cfg.Credentials.User,
		Secret:    cfg.Credentials.Password,
		Token:     cfg.Credentials.Token,
	}, logger, metricsCollector)
	if err != nil {
		return nil, err
	}

	transport := archive.NewTransport(client, tokens, archive.TransportOptions{
		Retry: archive.RetryPolicy{
			MaxAttempts: cfg.Transport.MaxRetries,
			BaseDelay:   cfg.Transport.BackoffBase,
		},
	}, logger, metricsCollector)
	fetcher := archive.NewFetcher(transport, logger, metricsCollector)

	urls := archive.URLBuilder{
		BaseURL: cfg.Archive.BaseURL,
		Version: cfg.Archive.Version,
		Tables:  cfg.Archive.Tables,
	}
	cache := services.NewMetadataCache(fetcher, urls, logger, metricsCollector)
	matcher := services.NewSpatialMatcher(logger, metricsCollector)
	orchestrator := services.NewDownloadOrchestrator(cache, matcher, fetcher, urls, services.OrchestratorOptions{
		Tables:      cfg.Archive.TableNames(),
		Columns:     cfg.Archive.Columns,
		DateColumns: cfg.Archive.DateColumns,
		Workers:     cfg.Transport.Workers,
	}, logger, metricsCollector)

	return &Stack{
		URLs:         urls,
		Metadata:     cache,
		Matcher:      matcher,
		Orchestrator: orchestrator,
	}, nil
}

// OpenDatabase connects to the configured database and applies the schema
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*database.DB, repository.StationMapRepository, error) {
	db, err := database.Open(&database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger, metricsCollector)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(ctx, db, "up"); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repository.NewStationMapRepository(db, logger, metricsCollector), nil
}
