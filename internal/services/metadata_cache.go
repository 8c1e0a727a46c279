package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"weather-archive/internal/archive"
	"weather-archive/internal/models"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// MetadataSource supplies station metadata per logical table
type MetadataSource interface {
	GetMetadata(ctx context.Context, table string) (*models.StationMetadata, error)
}

// metadataColumns are the metadata file columns a station needs
var metadataColumns = []string{
	"src_id",
	"station_latitude",
	"station_longitude",
	"first_year",
	"last_year",
	"historic_county",
	"station_file_name",
}

// MetadataCache memoizes station metadata for the process lifetime, keyed by
// the fully resolved metadata URL
type MetadataCache struct {
	fetcher archive.TableFetcher
	urls    archive.URLBuilder

	mu      sync.RWMutex
	entries map[string]*models.StationMetadata
	group   singleflight.Group

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewMetadataCache creates an empty cache
func NewMetadataCache(fetcher archive.TableFetcher, urls archive.URLBuilder, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *MetadataCache {
	return &MetadataCache{
		fetcher: fetcher,
		urls:    urls,
		entries: make(map[string]*models.StationMetadata),
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetMetadata returns the metadata snapshot for table, fetching it on first
// use. Concurrent misses for the same URL share one download. An empty
// archive response is a *models.MetadataUnavailableError and is not cached.
func (c *MetadataCache) GetMetadata(ctx context.Context, table string) (*models.StationMetadata, error) {
	url, err := c.urls.MetadataURL(table)
	if err != nil {
		return nil, err
	}

	if meta, ok := c.lookup(url); ok {
		c.metrics.RecordCacheLookup(true)
		return meta, nil
	}
	c.metrics.RecordCacheLookup(false)

	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		if meta, ok := c.lookup(url); ok {
			return meta, nil
		}
		meta, err := c.load(ctx, table, url)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[url] = meta
		c.mu.Unlock()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.StationMetadata), nil
}

// Len returns the number of cached snapshots
func (c *MetadataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MetadataCache) lookup(url string) (*models.StationMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.entries[url]
	return meta, ok
}

func (c *MetadataCache) load(ctx context.Context, table, url string) (*models.StationMetadata, error) {
	c.logger.Info(ctx, "[META_FETCH] Downloading station metadata", logging.Fields{
		"table": table,
		"url":   url,
	})

	t, err := c.fetcher.FetchTable(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if t.Empty() {
		return nil, &models.MetadataUnavailableError{Table: table, URL: url}
	}

	meta, dropped, err := parseMetadata(table, url, t)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		c.logger.Warn(ctx, "[META_ROWS_DROPPED] Dropped metadata rows with non-numeric fields", logging.Fields{
			"table":   table,
			"dropped": dropped,
		})
	}
	if len(meta.Stations) == 0 {
		return nil, &models.MetadataUnavailableError{Table: table, URL: url}
	}

	c.logger.Info(ctx, "[META_CACHED] Station metadata cached", logging.Fields{
		"table":    table,
		"stations": len(meta.Stations),
	})
	return meta, nil
}

// parseMetadata maps metadata rows onto stations. Rows whose identifier,
// coordinates or service years do not parse as numbers are dropped.
func parseMetadata(table, url string, t *archive.Table) (*models.StationMetadata, int, error) {
	for _, col := range metadataColumns {
		if t.ColumnIndex(col) < 0 {
			return nil, 0, &models.FormatError{URL: url, Message: fmt.Sprintf("metadata is missing column %q", col)}
		}
	}

	meta := &models.StationMetadata{
		Table:    table,
		URL:      url,
		Stations: make([]models.Station, 0, t.Len()),
	}
	dropped := 0
	for i := 0; i < t.Len(); i++ {
		station, err := parseStation(t, i)
		if err != nil {
			dropped++
			continue
		}
		meta.Stations = append(meta.Stations, station)
	}
	return meta, dropped, nil
}

func parseStation(t *archive.Table, i int) (models.Station, error) {
	var (
		s    models.Station
		errs []error
	)
	cell := func(col string) string {
		v, _ := t.Value(i, col)
		return strings.TrimSpace(v)
	}
	number := func(col string) float64 {
		f, err := strconv.ParseFloat(cell(col), 64)
		if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
			err = fmt.Errorf("non-finite value %q", cell(col))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", col, err))
		}
		return f
	}
	integer := func(col string) int {
		n, err := strconv.Atoi(cell(col))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", col, err))
		}
		return n
	}

	s.SrcID = integer("src_id")
	s.Latitude = number("station_latitude")
	s.Longitude = number("station_longitude")
	s.FirstYear = integer("first_year")
	s.LastYear = integer("last_year")
	s.Region = cell("historic_county")
	s.FileName = cell("station_file_name")

	return s, errors.Join(errs...)
}
