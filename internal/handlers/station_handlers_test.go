package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"weather-archive/internal/archive"
	"weather-archive/internal/models"
	"weather-archive/internal/services"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

type fakeResolver struct {
	result *services.ResolveResult
	err    error
	got    services.ResolveRequest
	sink   services.Sink

	stationYear *archive.Table
	gotColumns  []string
}

func (f *fakeResolver) Resolve(ctx context.Context, req services.ResolveRequest, sink services.Sink) (*services.ResolveResult, error) {
	f.got = req
	f.sink = sink
	return f.result, f.err
}

func (f *fakeResolver) DownloadStationYear(ctx context.Context, table string, stationID, year int, columns []string) (*archive.Table, error) {
	f.gotColumns = columns
	if f.err != nil {
		return nil, f.err
	}
	if table != "temperature" {
		return nil, models.UnknownTable(table)
	}
	if stationID != 101 {
		return nil, fmt.Errorf("station %d: %w", stationID, models.ErrUnknownStation)
	}
	return f.stationYear, nil
}

type fakeDB struct {
	err error
}

func (f fakeDB) HealthCheck(ctx context.Context) error { return f.err }

type fakeMetadata map[string]*models.StationMetadata

func (f fakeMetadata) GetMetadata(ctx context.Context, table string) (*models.StationMetadata, error) {
	meta, ok := f[table]
	if !ok {
		return nil, models.UnknownTable(table)
	}
	if len(meta.Stations) == 0 {
		return nil, &models.MetadataUnavailableError{Table: table}
	}
	return meta, nil
}

type nopSink struct{}

func (nopSink) WriteDataset(ctx context.Context, key services.TableYear, t *archive.Table) error {
	return nil
}
func (nopSink) WriteStationMap(ctx context.Context, m models.ConsolidatedMap) error { return nil }

func newTestRouter(resolver Resolver, persist SinkFactory) *mux.Router {
	return newTestRouterWithDB(resolver, persist, nil)
}

func newTestRouterWithDB(resolver Resolver, persist SinkFactory, db HealthChecker) *mux.Router {
	logger := logging.Discard()
	collector := metrics.Noop()
	meta := fakeMetadata{
		"temperature": {
			Table: "temperature",
			Stations: []models.Station{
				{SrcID: 101, Latitude: 51.505, Longitude: -0.11, FirstYear: 1990, LastYear: 2020},
				{SrcID: 202, Latitude: 51.479, Longitude: -0.449, FirstYear: 1948, LastYear: 2024},
				{SrcID: 303, Latitude: 53.36, Longitude: -2.38, FirstYear: 1990, LastYear: 2024},
			},
		},
		"rain": {Table: "rain"},
	}

	h := NewStationHandler(resolver, meta, services.NewSpatialMatcher(logger, collector), persist, db, logger, collector)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func TestResolve_Success(t *testing.T) {
	resolver := &fakeResolver{result: &services.ResolveResult{
		Map: models.ConsolidatedMap{
			Tables: []string{"temperature"},
			Rows: []models.StationMapRow{
				{LocID: "A", Year: 2015, Stations: map[string]int{"temperature": 101}},
			},
		},
		Datasets: map[services.TableYear]*archive.Table{
			{Table: "temperature", Year: 2015}: {Columns: []string{"src_id"}, Rows: [][]string{{"101"}, {"101"}}},
		},
	}}
	var persistedRun string
	router := newTestRouter(resolver, func(runID string) services.Sink {
		persistedRun = runID
		return nopSink{}
	})

	body := `{"points":[{"id":"A","lat":51.5,"lon":-0.1}],"start_year":2014,"end_year":2015,"tables":["temperature"],"columns":{"temperature":["max_air_temp"]},"k":1,"persist":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if !reflect.DeepEqual(resolver.got.Years, []int{2014, 2015}) || resolver.got.K != 1 {
		t.Errorf("resolver got %+v", resolver.got)
	}
	if !reflect.DeepEqual(resolver.got.Columns, map[string][]string{"temperature": {"max_air_temp"}}) {
		t.Errorf("resolver got columns %v", resolver.got.Columns)
	}
	if resolver.sink == nil {
		t.Error("persist=true did not pass a sink")
	}

	var resp struct {
		RunID         string                   `json:"run_id"`
		StationMap    []map[string]interface{} `json:"station_map"`
		Datasets      []DatasetSummary         `json:"datasets"`
		SkippedTables []string                 `json:"skipped_tables"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.RunID == "" || resp.RunID != persistedRun {
		t.Errorf("run_id = %q, sink run = %q", resp.RunID, persistedRun)
	}
	if len(resp.StationMap) != 1 || resp.StationMap[0]["src_id_temperature"] != float64(101) {
		t.Errorf("station_map = %v", resp.StationMap)
	}
	if !reflect.DeepEqual(resp.Datasets, []DatasetSummary{{Table: "temperature", Year: 2015, Rows: 2}}) {
		t.Errorf("datasets = %+v", resp.Datasets)
	}
	if resp.SkippedTables == nil {
		t.Error("skipped_tables should be an empty array, not null")
	}
}

func TestResolve_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		persist SinkFactory
	}{
		{"malformed json", `{"points":`, nil},
		{"unknown field", `{"points":[{"id":"A","lat":1,"lon":1}],"start_year":2015,"end_year":2015,"colour":"red"}`, nil},
		{"no points", `{"points":[],"start_year":2015,"end_year":2015}`, nil},
		{"latitude out of range", `{"points":[{"id":"A","lat":91,"lon":1}],"start_year":2015,"end_year":2015}`, nil},
		{"missing id", `{"points":[{"lat":1,"lon":1}],"start_year":2015,"end_year":2015}`, nil},
		{"years reversed", `{"points":[{"id":"A","lat":1,"lon":1}],"start_year":2015,"end_year":2010}`, nil},
		{"span too long", `{"points":[{"id":"A","lat":1,"lon":1}],"start_year":1850,"end_year":2015}`, nil},
		{"persist unavailable", `{"points":[{"id":"A","lat":1,"lon":1}],"start_year":2015,"end_year":2015,"persist":true}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{result: &services.ResolveResult{}}
			router := newTestRouter(resolver, tt.persist)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
			}
			if resolver.got.Points != nil {
				t.Error("resolver was called for an invalid request")
			}
		})
	}
}

func TestResolve_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown table", models.UnknownTable("snow"), http.StatusBadRequest},
		{"transport", &models.TransportError{URL: "u", Attempts: 3, Err: errors.New("reset")}, http.StatusBadGateway},
		{"format", &models.FormatError{Message: "no marker"}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeResolver{err: tt.err}, nil)
			body := `{"points":[{"id":"A","lat":51.5,"lon":-0.1}],"start_year":2015,"end_year":2015}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Code != tt.want {
				t.Errorf("error body = %s", rec.Body.String())
			}
		})
	}
}

func TestNearestStations(t *testing.T) {
	router := newTestRouter(&fakeResolver{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stations/temperature?lat=51.5&lon=-0.1&year=2022&k=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var candidates []Candidate
	if err := json.Unmarshal(rec.Body.Bytes(), &candidates); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	// 101 closed in 2020
	if len(candidates) != 2 || candidates[0].SrcID != 202 || candidates[1].SrcID != 303 {
		t.Errorf("candidates = %+v", candidates)
	}
	if candidates[0].DistanceKm <= 0 || candidates[0].DistanceKm > candidates[1].DistanceKm {
		t.Errorf("distances not ascending: %+v", candidates)
	}
}

func TestNearestStations_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing lat", "/api/v1/stations/temperature?lon=0&year=2015", http.StatusBadRequest},
		{"bad year", "/api/v1/stations/temperature?lat=1&lon=0&year=soon", http.StatusBadRequest},
		{"bad k", "/api/v1/stations/temperature?lat=1&lon=0&year=2015&k=0", http.StatusBadRequest},
		{"out of range", "/api/v1/stations/temperature?lat=1&lon=200&year=2015", http.StatusBadRequest},
		{"unknown table", "/api/v1/stations/snow?lat=1&lon=0&year=2015", http.StatusBadRequest},
		{"no metadata", "/api/v1/stations/rain?lat=1&lon=0&year=2015", http.StatusNotFound},
	}

	router := newTestRouter(&fakeResolver{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestHealthAndDocs(t *testing.T) {
	router := newTestRouter(&fakeResolver{}, nil)

	for _, path := range []string{"/health", "/api/docs/openapi.json"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
		}
		var v map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
			t.Errorf("GET %s returned invalid JSON: %v", path, err)
		}
	}
}

func TestStationYear(t *testing.T) {
	resolver := &fakeResolver{stationYear: &archive.Table{
		Columns: []string{"max_air_temp", "src_id"},
		Rows:    [][]string{{"12.5", "101"}, {"", "101"}},
	}}
	router := newTestRouter(resolver, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stations/temperature/101/2015?columns=max_air_temp,+src_id", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !reflect.DeepEqual(resolver.gotColumns, []string{"max_air_temp", "src_id"}) {
		t.Errorf("columns = %v", resolver.gotColumns)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var records []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(records) != 2 || records[0]["max_air_temp"] != 12.5 || records[1]["max_air_temp"] != nil {
		t.Errorf("records = %v", records)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stations/temperature/101/2015?format=csv", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("csv status = %d, type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if want := "max_air_temp,src_id\n12.5,101\n,101\n"; rec.Body.String() != want {
		t.Errorf("csv body = %q, want %q", rec.Body.String(), want)
	}
}

func TestStationYear_Errors(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		resolver *fakeResolver
		want     int
	}{
		{"unknown station", "/api/v1/stations/temperature/999/2015", &fakeResolver{}, http.StatusNotFound},
		{"unknown table", "/api/v1/stations/snow/101/2015", &fakeResolver{}, http.StatusBadRequest},
		{"bad format", "/api/v1/stations/temperature/101/2015?format=parquet", &fakeResolver{}, http.StatusBadRequest},
		{"transport", "/api/v1/stations/temperature/101/2015", &fakeResolver{err: &models.TransportError{URL: "u", Attempts: 3}}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.resolver, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestHealthCheck_Database(t *testing.T) {
	tests := []struct {
		name       string
		db         HealthChecker
		wantCode   int
		wantStatus string
		wantDB     string
	}{
		{"no database", nil, http.StatusOK, "healthy", "disabled"},
		{"database up", fakeDB{}, http.StatusOK, "healthy", "ok"},
		{"database down", fakeDB{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unhealthy", "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouterWithDB(&fakeResolver{}, nil, tt.db)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["status"] != tt.wantStatus || body["database"] != tt.wantDB {
				t.Errorf("body = %v", body)
			}
		})
	}
}
