package services

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"weather-archive/internal/archive"
	"weather-archive/internal/models"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

var (
	stJames   = models.Station{SrcID: 101, Latitude: 51.505, Longitude: -0.11, FirstYear: 1990, LastYear: 2020, Region: "greater-london", FileName: "st-james-park"}
	heathrow  = models.Station{SrcID: 202, Latitude: 51.479, Longitude: -0.449, FirstYear: 1948, LastYear: 2024, Region: "greater-london", FileName: "heathrow"}
	rostherne = models.Station{SrcID: 303, Latitude: 53.36, Longitude: -2.38, FirstYear: 1990, LastYear: 2024, Region: "cheshire", FileName: "rostherne-no-2"}
)

// fakeFetcher serves canned tables by URL and counts requests
type fakeFetcher struct {
	mu     sync.Mutex
	tables map[string]*archive.Table
	errs   map[string]error
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		tables: make(map[string]*archive.Table),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) FetchTable(ctx context.Context, url string, dateColumns []string) (*archive.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	t, ok := f.tables[url]
	if !ok {
		return archive.EmptyTable(), nil
	}
	return cloneTable(t), nil
}

func (f *fakeFetcher) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// stationYearCalls counts observation file requests, ignoring metadata
func (f *fakeFetcher) stationYearCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for url, c := range f.calls {
		if strings.Contains(url, "_qcv-1_") {
			n += c
		}
	}
	return n
}

func cloneTable(t *archive.Table) *archive.Table {
	out := &archive.Table{Columns: append([]string(nil), t.Columns...)}
	for _, row := range t.Rows {
		out.Rows = append(out.Rows, append([]string(nil), row...))
	}
	return out
}

func metadataTable(stations ...models.Station) *archive.Table {
	t := &archive.Table{Columns: append([]string(nil), metadataColumns...)}
	for _, s := range stations {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(s.SrcID),
			strconv.FormatFloat(s.Latitude, 'f', -1, 64),
			strconv.FormatFloat(s.Longitude, 'f', -1, 64),
			strconv.Itoa(s.FirstYear),
			strconv.Itoa(s.LastYear),
			s.Region,
			s.FileName,
		})
	}
	return t
}

func observations(srcID int, year int, n int) *archive.Table {
	t := &archive.Table{Columns: []string{"ob_end_time", "id_type", "src_id", "max_air_temp", "min_air_temp"}}
	for i := 0; i < n; i++ {
		day := strconv.Itoa(year) + "-01-0" + strconv.Itoa(i+1) + "T09:00:00Z"
		t.Rows = append(t.Rows, []string{day, "DCNN", strconv.Itoa(srcID), strconv.Itoa(10 + i), strconv.Itoa(i)})
	}
	return t
}

type fixture struct {
	fetcher *fakeFetcher
	urls    archive.URLBuilder
	cache   *MetadataCache
	orch    *DownloadOrchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	urls := archive.URLBuilder{
		BaseURL: "https://archive.test/data",
		Version: "202407",
		Tables: map[string]string{
			"temperature": "uk-daily-temperature-obs",
			"rain":        "uk-daily-rain-obs",
		},
	}
	f := &fixture{fetcher: newFakeFetcher(), urls: urls}

	logger := logging.Discard()
	collector := metrics.Noop()
	f.cache = NewMetadataCache(f.fetcher, urls, logger, collector)
	f.orch = NewDownloadOrchestrator(
		f.cache,
		NewSpatialMatcher(logger, collector),
		f.fetcher,
		urls,
		OrchestratorOptions{
			Tables: []string{"rain", "temperature"},
			Columns: map[string][]string{
				"temperature": {"ob_end_time", "src_id", "max_air_temp", "min_air_temp"},
				"rain":        {"ob_date", "src_id", "prcp_amt"},
			},
			Workers: 4,
		},
		logger,
		collector,
	)
	return f
}

func (f *fixture) setMetadata(t *testing.T, table string, stations ...models.Station) string {
	t.Helper()
	url, err := f.urls.MetadataURL(table)
	if err != nil {
		t.Fatalf("MetadataURL(%q) error = %v", table, err)
	}
	f.fetcher.tables[url] = metadataTable(stations...)
	return url
}

func (f *fixture) stationYearURL(t *testing.T, table string, s models.Station, year int) string {
	t.Helper()
	url, err := f.urls.StationYearURL(table, s, year)
	if err != nil {
		t.Fatalf("StationYearURL() error = %v", err)
	}
	return url
}

func (f *fixture) setObservations(t *testing.T, table string, s models.Station, year, rows int) string {
	t.Helper()
	url := f.stationYearURL(t, table, s, year)
	f.fetcher.tables[url] = observations(s.SrcID, year, rows)
	return url
}
