package services

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"weather-archive/internal/models"
)

func TestDecodeLocations(t *testing.T) {
	want := []models.QueryPoint{
		{ID: "A", Latitude: 51.5, Longitude: -0.1},
		{ID: "B", Latitude: 51.51, Longitude: -0.12},
	}

	tests := []struct {
		name   string
		format string
		input  string
	}{
		{"csv", "csv", "id,lat,lon\nA,51.5,-0.1\nB,51.51,-0.12\n"},
		{"csv long header", "CSV", "loc_id, latitude, longitude\nA, 51.5, -0.1\nB, 51.51, -0.12\n"},
		{"json list", "json", `[{"id":"A","lat":51.5,"lon":-0.1},{"id":"B","lat":51.51,"lon":-0.12}]`},
		{"json map", "json", `{"B":[51.51,-0.12],"A":[51.5,-0.1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLocations(strings.NewReader(tt.input), tt.format)
			if err != nil {
				t.Fatalf("DecodeLocations() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("DecodeLocations() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestDecodeLocations_Errors(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		input   string
		wantErr error
	}{
		{"empty csv", "csv", "", models.ErrNoLocations},
		{"header only", "csv", "id,lat,lon\n", models.ErrNoLocations},
		{"empty json", "json", "[]", models.ErrNoLocations},
		{"missing column", "csv", "id,lat\nA,51\n", nil},
		{"bad latitude", "csv", "id,lat,lon\nA,north,0\n", nil},
		{"out of range", "json", `[{"id":"A","lat":91,"lon":0}]`, nil},
		{"duplicate id", "json", `[{"id":"A","lat":1,"lon":0},{"id":"A","lat":2,"lon":0}]`, nil},
		{"unsupported format", "xml", "<a/>", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLocations(strings.NewReader(tt.input), tt.format)
			if err == nil {
				t.Fatal("DecodeLocations() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeLocations() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseYears(t *testing.T) {
	tests := []struct {
		input   string
		want    []int
		wantErr bool
	}{
		{"2015", []int{2015}, false},
		{"2010-2013", []int{2010, 2011, 2012, 2013}, false},
		{"2015, 2010-2011, 2015", []int{2010, 2011, 2015}, false},
		{"2015-2010", nil, true},
		{"soon", nil, true},
		{"", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseYears(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseYears() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseYears() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseColumns(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		want    map[string][]string
		wantErr bool
	}{
		{"none", nil, map[string][]string{}, false},
		{"two tables", []string{"temperature=ob_end_time, max_air_temp", "rain=prcp_amt"},
			map[string][]string{"temperature": {"ob_end_time", "max_air_temp"}, "rain": {"prcp_amt"}}, false},
		{"repeat replaces", []string{"rain=a", "rain=b"}, map[string][]string{"rain": {"b"}}, false},
		{"missing equals", []string{"temperature"}, nil, true},
		{"empty table", []string{"=a"}, nil, true},
		{"empty list", []string{"rain= , "}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseColumns(tt.specs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseColumns() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseColumns() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePoints(t *testing.T) {
	tests := []struct {
		name     string
		points   []models.QueryPoint
		wantErr  bool
		sentinel error
	}{
		{"valid", []models.QueryPoint{{ID: "A", Latitude: 51.5, Longitude: -0.1}, {ID: "B", Latitude: -33.9, Longitude: 151.2}}, false, nil},
		{"empty", nil, true, models.ErrNoLocations},
		{"duplicate id", []models.QueryPoint{{ID: "A"}, {ID: "A", Latitude: 1}}, true, nil},
		{"latitude out of range", []models.QueryPoint{{ID: "A", Latitude: 90.5}}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePoints(tt.points)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidatePoints() error = %v", err)
				}
				return
			}
			var ce *models.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("ValidatePoints() error = %v, want ConfigurationError", err)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("ValidatePoints() error = %v, want %v", err, tt.sentinel)
			}
		})
	}
}
