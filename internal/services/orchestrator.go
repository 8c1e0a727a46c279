package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"weather-archive/internal/archive"
	"weather-archive/internal/models"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// StationColumn tags every station-year row with its station identifier
const StationColumn = "src_id"

// TableYear identifies one per-table, per-year dataset
type TableYear struct {
	Table string
	Year  int
}

func (k TableYear) String() string {
	return k.Table + "_" + strconv.Itoa(k.Year)
}

// Sink receives the artifacts of a run as they are produced
type Sink interface {
	WriteDataset(ctx context.Context, key TableYear, table *archive.Table) error
	WriteStationMap(ctx context.Context, m models.ConsolidatedMap) error
}

// ResolveRequest describes one bulk resolution
type ResolveRequest struct {
	Points []models.QueryPoint
	Years  []int
	// Tables defaults to every configured table, in name order
	Tables []string
	// Columns overrides the configured column subset per table
	Columns map[string][]string
	// K is the number of ranked candidates computed per point; only the
	// nearest drives downloads
	K int
}

// ResolveResult is the outcome of a resolution
type ResolveResult struct {
	Map           models.ConsolidatedMap
	Datasets      map[TableYear]*archive.Table
	Assignments   []models.Assignment
	SkippedTables []string
}

// OrchestratorOptions configures a DownloadOrchestrator
type OrchestratorOptions struct {
	// Tables is the default table list, in request order
	Tables      []string
	Columns     map[string][]string
	DateColumns []string
	// Workers bounds concurrent station-year downloads within one table-year
	Workers int
}

// DownloadOrchestrator resolves points to stations and downloads the
// matching station-year observation files
type DownloadOrchestrator struct {
	metadata MetadataSource
	matcher  *SpatialMatcher
	fetcher  archive.TableFetcher
	urls     archive.URLBuilder
	opts     OrchestratorOptions
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewDownloadOrchestrator creates a new orchestrator
func NewDownloadOrchestrator(metadata MetadataSource, matcher *SpatialMatcher, fetcher archive.TableFetcher, urls archive.URLBuilder, opts OrchestratorOptions, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DownloadOrchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &DownloadOrchestrator{
		metadata: metadata,
		matcher:  matcher,
		fetcher:  fetcher,
		urls:     urls,
		opts:     opts,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Resolve runs the full pipeline. Tables without metadata and years without
// active stations are skipped; unknown tables and transport failures abort
// the run. When sink is non-nil each dataset and the final map are handed
// to it.
func (o *DownloadOrchestrator) Resolve(ctx context.Context, req ResolveRequest, sink Sink) (*ResolveResult, error) {
	timer := o.metrics.NewTimer(o.metrics.ResolveDuration)
	defer timer.ObserveDuration()

	if err := ValidatePoints(req.Points); err != nil {
		return nil, err
	}
	tables, err := o.tables(req.Tables)
	if err != nil {
		return nil, err
	}
	years := sortedYears(req.Years)
	k := req.K
	if k <= 0 {
		k = DefaultK
	}

	o.logger.Info(ctx, "[RESOLVE_START] Starting station resolution", logging.Fields{
		"points": len(req.Points),
		"tables": tables,
		"years":  years,
		"k":      k,
	})

	result := &ResolveResult{Datasets: make(map[TableYear]*archive.Table)}
	builder := NewAssignmentBuilder(tables)

	for _, table := range tables {
		meta, err := o.metadata.GetMetadata(ctx, table)
		if err != nil {
			var unavailable *models.MetadataUnavailableError
			if errors.As(err, &unavailable) {
				o.logger.Warn(ctx, "[META_UNAVAILABLE] Skipping table without metadata", logging.Fields{
					"table": table,
					"url":   unavailable.URL,
				})
				result.SkippedTables = append(result.SkippedTables, table)
				continue
			}
			return nil, fmt.Errorf("failed to load metadata for %s: %w", table, err)
		}

		columns := o.columns(table, req.Columns)
		for _, year := range years {
			ranked := o.matcher.Nearest(ctx, req.Points, meta, year, k)
			if len(ranked) == 0 {
				continue
			}

			seen := make(map[int]struct{})
			var stations []int
			for _, p := range req.Points {
				ids := ranked[p.ID]
				if len(ids) == 0 {
					continue
				}
				builder.Add(models.Assignment{PointID: p.ID, Table: table, Year: year, StationID: ids[0]})
				if _, ok := seen[ids[0]]; !ok {
					seen[ids[0]] = struct{}{}
					stations = append(stations, ids[0])
				}
			}

			key := TableYear{Table: table, Year: year}
			dataset, err := o.fetchStations(ctx, key, meta, stations, columns)
			if err != nil {
				return nil, err
			}
			if dataset.Empty() {
				o.logger.Info(ctx, "[TABLE_YEAR_EMPTY] No observations for table-year", logging.Fields{
					"table":    table,
					"year":     year,
					"stations": len(stations),
				})
				continue
			}

			result.Datasets[key] = dataset
			if sink != nil {
				if err := sink.WriteDataset(ctx, key, dataset); err != nil {
					return nil, fmt.Errorf("failed to write dataset %s: %w", key, err)
				}
			}
			o.logger.Info(ctx, "[TABLE_YEAR_COMPLETE] Station-year downloads complete", logging.Fields{
				"table":    table,
				"year":     year,
				"points":   len(req.Points),
				"stations": len(stations),
				"rows":     dataset.Len(),
			})
		}
	}

	result.Map = builder.Build()
	result.Assignments = builder.Assignments()
	if sink != nil {
		if err := sink.WriteStationMap(ctx, result.Map); err != nil {
			return nil, fmt.Errorf("failed to write station map: %w", err)
		}
	}

	o.logger.Info(ctx, "[RESOLVE_COMPLETE] Station resolution complete", logging.Fields{
		"rows":           len(result.Map.Rows),
		"datasets":       len(result.Datasets),
		"skipped_tables": result.SkippedTables,
	})
	return result, nil
}

// DownloadStationYear fetches one station's observations for one year.
// columns defaults to the configured subset for table.
func (o *DownloadOrchestrator) DownloadStationYear(ctx context.Context, table string, stationID, year int, columns []string) (*archive.Table, error) {
	if _, err := o.urls.Slug(table); err != nil {
		return nil, err
	}
	meta, err := o.metadata.GetMetadata(ctx, table)
	if err != nil {
		return nil, err
	}
	station, ok := meta.Lookup(stationID)
	if !ok {
		return nil, fmt.Errorf("station %d in table %s: %w", stationID, table, models.ErrUnknownStation)
	}
	if len(columns) == 0 {
		columns = o.opts.Columns[table]
	}
	return o.fetchStationYear(ctx, table, station, year, columns)
}

// fetchStations downloads each station once, concurrently, and concatenates
// the non-empty results in station id order
func (o *DownloadOrchestrator) fetchStations(ctx context.Context, key TableYear, meta *models.StationMetadata, stationIDs []int, columns []string) (*archive.Table, error) {
	ids := append([]int(nil), stationIDs...)
	sort.Ints(ids)

	stations := make([]models.Station, len(ids))
	for i, id := range ids {
		station, ok := meta.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("station %d in table %s: %w", id, key.Table, models.ErrUnknownStation)
		}
		stations[i] = station
	}

	results := make([]*archive.Table, len(stations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, station := range stations {
		i, station := i, station
		g.Go(func() error {
			t, err := o.fetchStationYear(gctx, key.Table, station, key.Year, columns)
			if err != nil {
				return err
			}
			results[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(columns) == 0 {
		alignColumns(results)
	}
	return archive.Concat(results...)
}

func (o *DownloadOrchestrator) fetchStationYear(ctx context.Context, table string, station models.Station, year int, columns []string) (*archive.Table, error) {
	url, err := o.urls.StationYearURL(table, station, year)
	if err != nil {
		return nil, err
	}

	log := o.logger.WithFields(logging.Fields{
		"table":      table,
		"station_id": station.SrcID,
		"year":       year,
	})

	t, err := o.fetcher.FetchTable(ctx, url, o.opts.DateColumns)
	if err != nil {
		o.metrics.RecordStationYear(table, "error")
		return nil, fmt.Errorf("failed to download station %d year %d for %s: %w", station.SrcID, year, table, err)
	}
	if t.Empty() {
		o.metrics.RecordStationYear(table, "empty")
		log.Debug(ctx, "[STATION_YEAR_EMPTY] No observations for station-year", logging.Fields{})
		return archive.EmptyTable(), nil
	}

	selected, missing := t.Select(columns)
	if len(missing) > 0 {
		log.Warn(ctx, "[STATION_YEAR_COLUMNS] Station file lacks requested columns", logging.Fields{
			"missing": missing,
		})
	}
	o.metrics.RecordStationYear(table, "ok")
	return selected.WithColumn(StationColumn, strconv.Itoa(station.SrcID)), nil
}

// tables validates requested table names, defaulting to every configured table
func (o *DownloadOrchestrator) tables(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string(nil), o.opts.Tables...), nil
	}

	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))
	for _, t := range requested {
		if _, err := o.urls.Slug(t); err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func (o *DownloadOrchestrator) columns(table string, overrides map[string][]string) []string {
	if cols, ok := overrides[table]; ok && len(cols) > 0 {
		return cols
	}
	return o.opts.Columns[table]
}

func sortedYears(years []int) []int {
	seen := make(map[int]struct{}, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if _, dup := seen[y]; dup {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// alignColumns reshapes tables to the first non-empty table's columns so
// files from different stations can be concatenated
func alignColumns(tables []*archive.Table) {
	var ref []string
	for _, t := range tables {
		if !t.Empty() {
			ref = t.Columns
			break
		}
	}
	if ref == nil {
		return
	}
	for i, t := range tables {
		if !t.Empty() {
			tables[i], _ = t.Select(ref)
		}
	}
}
