package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"weather-archive/internal/archive"
	"weather-archive/internal/geo"
	"weather-archive/internal/models"
	"weather-archive/internal/output"
	"weather-archive/internal/services"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// maxYearSpan bounds the number of years a single resolve request may cover
const maxYearSpan = 100

// Resolver runs bulk resolutions and single station-year downloads
type Resolver interface {
	Resolve(ctx context.Context, req services.ResolveRequest, sink services.Sink) (*services.ResolveResult, error)
	DownloadStationYear(ctx context.Context, table string, stationID, year int, columns []string) (*archive.Table, error)
}

// SinkFactory builds the persistence sink for one run
type SinkFactory func(runID string) services.Sink

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

var contentTypes = map[string]string{
	"csv":   "text/csv",
	"json":  "application/json",
	"excel": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// StationHandler serves the resolution API
type StationHandler struct {
	resolver Resolver
	metadata services.MetadataSource
	matcher  *services.SpatialMatcher
	persist  SinkFactory
	db       HealthChecker
	validate *validator.Validate
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewStationHandler creates a new handler. persist and db are nil when no
// database is configured.
func NewStationHandler(
	resolver Resolver,
	metadata services.MetadataSource,
	matcher *services.SpatialMatcher,
	persist SinkFactory,
	db HealthChecker,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *StationHandler {
	return &StationHandler{
		resolver: resolver,
		metadata: metadata,
		matcher:  matcher,
		persist:  persist,
		db:       db,
		validate: validator.New(),
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ResolveBody is the POST /api/v1/resolve request
type ResolveBody struct {
	Points    []models.QueryPoint `json:"points" validate:"required,min=1,dive"`
	StartYear int                 `json:"start_year" validate:"required,gte=1800,lte=2100"`
	EndYear   int                 `json:"end_year" validate:"required,gtefield=StartYear,lte=2100"`
	Tables    []string            `json:"tables"`
	Columns   map[string][]string `json:"columns"`
	K         int                 `json:"k" validate:"gte=0,lte=50"`
	Persist   bool                `json:"persist"`
}

// DatasetSummary describes one downloaded table-year dataset
type DatasetSummary struct {
	Table string `json:"table"`
	Year  int    `json:"year"`
	Rows  int    `json:"rows"`
}

// ResolveResponse is the POST /api/v1/resolve response
type ResolveResponse struct {
	RunID         string                 `json:"run_id"`
	StationMap    models.ConsolidatedMap `json:"station_map"`
	Datasets      []DatasetSummary       `json:"datasets"`
	SkippedTables []string               `json:"skipped_tables"`
}

// Candidate is one ranked station for GET /api/v1/stations/{table}
type Candidate struct {
	SrcID      int     `json:"src_id"`
	Latitude   float64 `json:"station_latitude"`
	Longitude  float64 `json:"station_longitude"`
	DistanceKm float64 `json:"distance_km"`
}

// Resolve handles POST /api/v1/resolve
func (h *StationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/resolve"
	startTime := time.Now()
	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	runID := uuid.NewString()
	ctx := logging.WithRunID(r.Context(), runID)

	var body ResolveBody
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		h.sendError(w, r, endpoint, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
		return
	}
	if body.EndYear-body.StartYear >= maxYearSpan {
		h.sendError(w, r, endpoint, fmt.Sprintf("year range may span at most %d years", maxYearSpan), http.StatusBadRequest)
		return
	}

	var sink services.Sink
	if body.Persist {
		if h.persist == nil {
			h.sendError(w, r, endpoint, "persistence is not configured", http.StatusBadRequest)
			return
		}
		sink = h.persist(runID)
	}

	years := make([]int, 0, body.EndYear-body.StartYear+1)
	for y := body.StartYear; y <= body.EndYear; y++ {
		years = append(years, y)
	}

	result, err := h.resolver.Resolve(ctx, services.ResolveRequest{
		Points:  body.Points,
		Years:   years,
		Tables:  body.Tables,
		Columns: body.Columns,
		K:       body.K,
	}, sink)
	if err != nil {
		status := statusFor(err)
		h.logger.Error(ctx, "[API_RESOLVE_ERROR] Resolution failed", logging.Fields{
			"points": len(body.Points),
			"status": status,
		}, err)
		h.metrics.RecordAPIError(errorType(status), endpoint)
		h.sendError(w, r, endpoint, err.Error(), status)
		return
	}

	response := ResolveResponse{
		RunID:         runID,
		StationMap:    result.Map,
		Datasets:      make([]DatasetSummary, 0, len(result.Datasets)),
		SkippedTables: result.SkippedTables,
	}
	if response.SkippedTables == nil {
		response.SkippedTables = []string{}
	}
	for _, table := range result.Map.Tables {
		for _, y := range years {
			if ds, ok := result.Datasets[services.TableYear{Table: table, Year: y}]; ok {
				response.Datasets = append(response.Datasets, DatasetSummary{Table: table, Year: y, Rows: ds.Len()})
			}
		}
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, response, http.StatusOK)
}

// NearestStations handles GET /api/v1/stations/{table}?lat=&lon=&year=&k=
func (h *StationHandler) NearestStations(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/stations"
	startTime := time.Now()
	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()
	ctx := r.Context()

	table := mux.Vars(r)["table"]
	query := r.URL.Query()

	point := models.QueryPoint{ID: "query"}
	var err error
	if point.Latitude, err = strconv.ParseFloat(query.Get("lat"), 64); err != nil {
		h.sendError(w, r, endpoint, "lat must be a number", http.StatusBadRequest)
		return
	}
	if point.Longitude, err = strconv.ParseFloat(query.Get("lon"), 64); err != nil {
		h.sendError(w, r, endpoint, "lon must be a number", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(point); err != nil {
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
		return
	}

	year, err := strconv.Atoi(query.Get("year"))
	if err != nil {
		h.sendError(w, r, endpoint, "year must be an integer", http.StatusBadRequest)
		return
	}

	k := services.DefaultK
	if ks := query.Get("k"); ks != "" {
		if k, err = strconv.Atoi(ks); err != nil || k < 1 || k > 50 {
			h.sendError(w, r, endpoint, "k must be an integer between 1 and 50", http.StatusBadRequest)
			return
		}
	}

	meta, err := h.metadata.GetMetadata(ctx, table)
	if err != nil {
		status := statusFor(err)
		h.metrics.RecordAPIError(errorType(status), endpoint)
		h.sendError(w, r, endpoint, err.Error(), status)
		return
	}

	ix := h.matcher.BuildIndex(ctx, meta, year)
	neighbors := ix.Query([]models.QueryPoint{point}, k)[point.ID]

	candidates := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		candidates = append(candidates, toCandidate(n))
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, candidates, http.StatusOK)
}

func toCandidate(n geo.Neighbor) Candidate {
	return Candidate{
		SrcID:      n.Site.ID,
		Latitude:   n.Site.Lat,
		Longitude:  n.Site.Lon,
		DistanceKm: n.DistanceKm,
	}
}

// StationYear handles GET /api/v1/stations/{table}/{id}/{year}?columns=&format=
func (h *StationHandler) StationYear(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/stations/station-year"
	startTime := time.Now()
	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()
	ctx := r.Context()

	vars := mux.Vars(r)
	table := vars["table"]
	stationID, err := strconv.Atoi(vars["id"])
	if err != nil {
		h.sendError(w, r, endpoint, "station id must be an integer", http.StatusBadRequest)
		return
	}
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		h.sendError(w, r, endpoint, "year must be an integer", http.StatusBadRequest)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	writer, err := output.NewWriter(format)
	if err != nil {
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
		return
	}

	var columns []string
	for _, c := range strings.Split(r.URL.Query().Get("columns"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}

	t, err := h.resolver.DownloadStationYear(ctx, table, stationID, year, columns)
	if err != nil {
		status := statusFor(err)
		h.logger.Error(ctx, "[API_STATION_YEAR_ERROR] Station-year download failed", logging.Fields{
			"table":      table,
			"station_id": stationID,
			"year":       year,
			"status":     status,
		}, err)
		h.metrics.RecordAPIError(errorType(status), endpoint)
		h.sendError(w, r, endpoint, err.Error(), status)
		return
	}

	var buf bytes.Buffer
	if err := writer.Write(&buf, t); err != nil {
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, endpoint, err.Error(), http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	w.Header().Set("Content-Type", contentTypes[writer.Format()])
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s_%d_%d.%s", table, stationID, year, writer.Extension())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// HealthCheck handles GET /health
func (h *StationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"database":  "disabled",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if h.db != nil {
		status["database"] = "ok"
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Error(ctx, "[HEALTH_CHECK_FAILED] Database health check failed", logging.Fields{}, err)
			status["status"] = "unhealthy"
			status["database"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

// statusFor maps pipeline errors onto HTTP status codes
func statusFor(err error) int {
	var (
		configErr    *models.ConfigurationError
		transportErr *models.TransportError
		formatErr    *models.FormatError
		unavailable  *models.MetadataUnavailableError
	)
	switch {
	case errors.As(err, &configErr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownStation):
		return http.StatusNotFound
	case errors.As(err, &unavailable):
		return http.StatusNotFound
	case errors.As(err, &transportErr), errors.As(err, &formatErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorType(status int) string {
	switch {
	case status == http.StatusBadGateway:
		return "upstream_error"
	case status >= 500:
		return "internal_error"
	default:
		return "client_error"
	}
}

// sendJSON sends a JSON response
func (h *StationHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *StationHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all station API routes
func (h *StationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/resolve", h.Resolve).Methods("POST")
	router.HandleFunc("/api/v1/stations/{table}", h.NearestStations).Methods("GET")
	router.HandleFunc("/api/v1/stations/{table}/{id:[0-9]+}/{year:[0-9]+}", h.StationYear).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
