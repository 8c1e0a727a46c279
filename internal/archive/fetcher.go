package archive

import (
	"context"
	"errors"

	"weather-archive/internal/models"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// TableFetcher retrieves and decodes archive files
type TableFetcher interface {
	FetchTable(ctx context.Context, url string, dateColumns []string) (*Table, error)
}

// Fetcher decodes archive text into tables
type Fetcher struct {
	transport TextFetcher
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewFetcher creates a tabular fetcher on top of a text transport
func NewFetcher(transport TextFetcher, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Fetcher {
	return &Fetcher{
		transport: transport,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// FetchTable downloads url and decodes it. An absent resource yields an
// empty table, not an error. A missing data marker is a *models.FormatError.
func (f *Fetcher) FetchTable(ctx context.Context, url string, dateColumns []string) (*Table, error) {
	text, ok, err := f.transport.FetchText(ctx, url)
	if err != nil {
		return nil, err
	}
	if !ok {
		return EmptyTable(), nil
	}

	table, skipped, err := Decode(text, dateColumns)
	if err != nil {
		var fe *models.FormatError
		if errors.As(err, &fe) {
			fe.URL = url
		}
		return nil, err
	}

	for _, s := range skipped {
		f.metrics.DialectRowsSkippedTotal.Inc()
		f.logger.Warn(ctx, "[DIALECT_ROW_SKIPPED] Skipping malformed archive row", logging.Fields{
			"url":    url,
			"line":   s.Line,
			"reason": s.Reason,
		})
	}

	f.logger.Debug(ctx, "[ARCHIVE_TABLE] Decoded archive file", logging.Fields{
		"url":     url,
		"rows":    table.Len(),
		"columns": len(table.Columns),
		"skipped": len(skipped),
	})
	return table, nil
}
