package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"weather-archive/internal/models"
)

var validate = validator.New()

// PointsFromMap converts an id → [lat, lon] mapping into query points ordered by id
func PointsFromMap(locations map[string][2]float64) []models.QueryPoint {
	points := make([]models.QueryPoint, 0, len(locations))
	for id, c := range locations {
		points = append(points, models.QueryPoint{ID: id, Latitude: c[0], Longitude: c[1]})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
	return points
}

// ValidatePoints checks identifiers and coordinate ranges
func ValidatePoints(points []models.QueryPoint) error {
	if err := validatePoints(points); err != nil {
		return err
	}
	for _, p := range points {
		if err := validate.Struct(p); err != nil {
			return &models.ConfigurationError{
				Field:   "locations",
				Message: fmt.Sprintf("invalid location %q: %v", p.ID, err),
				Err:     err,
			}
		}
	}
	return nil
}

func validatePoints(points []models.QueryPoint) error {
	if len(points) == 0 {
		return &models.ConfigurationError{Field: "locations", Message: "no query points supplied", Err: models.ErrNoLocations}
	}
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		if _, dup := seen[p.ID]; dup {
			return &models.ConfigurationError{Field: "locations", Message: fmt.Sprintf("duplicate location id %q", p.ID)}
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// DecodeLocations reads query points in "csv" or "json" form.
//
// CSV needs a header naming id (or loc_id), lat (or latitude) and lon (or
// longitude). JSON is either an array of {"id","lat","lon"} objects or an
// object mapping id to [lat, lon].
func DecodeLocations(r io.Reader, format string) ([]models.QueryPoint, error) {
	var (
		points []models.QueryPoint
		err    error
	)
	switch strings.ToLower(format) {
	case "csv":
		points, err = decodeLocationsCSV(r)
	case "json":
		points, err = decodeLocationsJSON(r)
	default:
		return nil, &models.ConfigurationError{Field: "locations", Message: fmt.Sprintf("unsupported locations format %q", format)}
	}
	if err != nil {
		return nil, err
	}
	if err := ValidatePoints(points); err != nil {
		return nil, err
	}
	return points, nil
}

func decodeLocationsCSV(r io.Reader) ([]models.QueryPoint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read locations header: %w", err)
	}

	idCol, latCol, lonCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "id", "loc_id":
			idCol = i
		case "lat", "latitude":
			latCol = i
		case "lon", "lng", "longitude":
			lonCol = i
		}
	}
	if idCol < 0 || latCol < 0 || lonCol < 0 {
		return nil, &models.ConfigurationError{Field: "locations", Message: "csv header must name id, lat and lon columns"}
	}

	var points []models.QueryPoint
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read locations: %w", err)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(record[latCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(record[lonCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid longitude: %w", line, err)
		}
		points = append(points, models.QueryPoint{ID: strings.TrimSpace(record[idCol]), Latitude: lat, Longitude: lon})
	}
	return points, nil
}

func decodeLocationsJSON(r io.Reader) ([]models.QueryPoint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read locations: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '{' {
		var m map[string][2]float64
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode locations: %w", err)
		}
		return PointsFromMap(m), nil
	}

	var points []models.QueryPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("failed to decode locations: %w", err)
	}
	return points, nil
}

// ParseYears accepts "2015", "2010-2015" or a comma-separated mix of both
func ParseYears(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("invalid year %q: %w", part, err)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
				return nil, fmt.Errorf("invalid year %q: %w", part, err)
			}
		}
		if end < start {
			return nil, fmt.Errorf("invalid year range %q", part)
		}
		for y := start; y <= end; y++ {
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("no years in %q", s)
	}
	return sortedYears(years), nil
}

// ParseColumns reads per-table column overrides of the form
// "table=col1,col2". Repeating a table replaces its earlier subset.
func ParseColumns(specs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(specs))
	for _, spec := range specs {
		table, list, ok := strings.Cut(spec, "=")
		table = strings.TrimSpace(table)
		if !ok || table == "" {
			return nil, &models.ConfigurationError{Field: "columns", Message: fmt.Sprintf("expected table=col1,col2, got %q", spec)}
		}
		var cols []string
		for _, c := range strings.Split(list, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cols = append(cols, c)
			}
		}
		if len(cols) == 0 {
			return nil, &models.ConfigurationError{Field: "columns", Message: fmt.Sprintf("no columns for table %q", table)}
		}
		out[table] = cols
	}
	return out, nil
}
