package services

import (
	"context"

	"weather-archive/internal/geo"
	"weather-archive/internal/models"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// DefaultK is the number of ranked candidates returned per point
const DefaultK = 3

// SpatialMatcher resolves query points to the nearest stations active in a year
type SpatialMatcher struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSpatialMatcher creates a new matcher
func NewSpatialMatcher(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SpatialMatcher {
	return &SpatialMatcher{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// YearIndex is a great-circle index over the stations of one table active
// in one year. It is built once and shared by every query point.
type YearIndex struct {
	Table string
	Year  int
	index *geo.Index
}

// Empty reports whether no station was active in the year
func (ix *YearIndex) Empty() bool {
	return ix == nil || ix.index.Len() == 0
}

// Len returns the number of active stations
func (ix *YearIndex) Len() int {
	if ix == nil {
		return 0
	}
	return ix.index.Len()
}

// Query returns up to k neighbours per point id, nearest first
func (ix *YearIndex) Query(points []models.QueryPoint, k int) map[string][]geo.Neighbor {
	out := make(map[string][]geo.Neighbor, len(points))
	if ix.Empty() {
		return out
	}
	for _, p := range points {
		out[p.ID] = ix.index.Nearest(p.Latitude, p.Longitude, k)
	}
	return out
}

// BuildIndex filters meta to stations active in year and indexes them
func (m *SpatialMatcher) BuildIndex(ctx context.Context, meta *models.StationMetadata, year int) *YearIndex {
	sites := make([]geo.Site, 0, len(meta.Stations))
	for _, s := range meta.Stations {
		if s.ActiveIn(year) {
			sites = append(sites, geo.Site{ID: s.SrcID, Lat: s.Latitude, Lon: s.Longitude})
		}
	}

	m.metrics.RecordIndexBuild(meta.Table, len(sites))
	m.logger.Debug(ctx, "[MATCH_INDEX] Built station index", logging.Fields{
		"table":    meta.Table,
		"year":     year,
		"stations": len(sites),
	})

	return &YearIndex{Table: meta.Table, Year: year, index: geo.NewIndex(sites)}
}

// Nearest maps each point id to up to k station ids active in year, nearest
// first. The mapping is empty when no station was active.
func (m *SpatialMatcher) Nearest(ctx context.Context, points []models.QueryPoint, meta *models.StationMetadata, year, k int) map[string][]int {
	if k <= 0 {
		k = DefaultK
	}

	ix := m.BuildIndex(ctx, meta, year)
	if ix.Empty() {
		m.logger.Info(ctx, "[MATCH_EMPTY_YEAR] No active stations in year", logging.Fields{
			"table": meta.Table,
			"year":  year,
		})
		return map[string][]int{}
	}

	out := make(map[string][]int, len(points))
	for id, neighbors := range ix.Query(points, k) {
		ids := make([]int, len(neighbors))
		for i, n := range neighbors {
			ids[i] = n.Site.ID
		}
		out[id] = ids
	}
	return out
}
