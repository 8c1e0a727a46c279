package services

import (
	"context"
	"reflect"
	"testing"

	"weather-archive/internal/models"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

func TestSpatialMatcher_TemporalFilter(t *testing.T) {
	// Station 1 sits on the query point but only reported 2000-2010.
	meta := &models.StationMetadata{
		Table: "temperature",
		Stations: []models.Station{
			{SrcID: 1, Latitude: 51.5, Longitude: -0.1, FirstYear: 2000, LastYear: 2010},
			{SrcID: 2, Latitude: 51.8, Longitude: -0.4, FirstYear: 1950, LastYear: 2024},
		},
	}
	points := []models.QueryPoint{{ID: "p", Latitude: 51.5, Longitude: -0.1}}
	m := NewSpatialMatcher(logging.Discard(), metrics.Noop())

	tests := []struct {
		year int
		want int
	}{
		{1999, 2},
		{2000, 1},
		{2010, 1},
		{2011, 2},
	}
	for _, tt := range tests {
		got := m.Nearest(context.Background(), points, meta, tt.year, 1)
		if len(got["p"]) != 1 || got["p"][0] != tt.want {
			t.Errorf("year %d: Nearest() = %v, want [%d]", tt.year, got["p"], tt.want)
		}
	}
}

func TestSpatialMatcher_EmptyYear(t *testing.T) {
	meta := &models.StationMetadata{
		Table:    "temperature",
		Stations: []models.Station{stJames, heathrow},
	}
	m := NewSpatialMatcher(logging.Discard(), metrics.Noop())

	got := m.Nearest(context.Background(), []models.QueryPoint{{ID: "a", Latitude: 51.5, Longitude: -0.1}}, meta, 1900, 3)
	if got == nil || len(got) != 0 {
		t.Errorf("Nearest() = %v, want empty non-nil mapping", got)
	}
}

func TestSpatialMatcher_RankedCandidates(t *testing.T) {
	meta := &models.StationMetadata{
		Table: "temperature",
		Stations: []models.Station{
			{SrcID: 10, Latitude: 50, Longitude: 0, FirstYear: 1900, LastYear: 2100},
			{SrcID: 20, Latitude: 55, Longitude: 0, FirstYear: 1900, LastYear: 2100},
			{SrcID: 30, Latitude: 60, Longitude: 0, FirstYear: 1900, LastYear: 2100},
		},
	}
	m := NewSpatialMatcher(logging.Discard(), metrics.Noop())
	points := []models.QueryPoint{
		{ID: "north", Latitude: 59, Longitude: 0},
		{ID: "south", Latitude: 51, Longitude: 0},
	}

	got := m.Nearest(context.Background(), points, meta, 2000, 0)
	want := map[string][]int{
		"north": {30, 20, 10},
		"south": {10, 20, 30},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Nearest() = %v, want %v", got, want)
	}

	got = m.Nearest(context.Background(), points, meta, 2000, 1)
	if !reflect.DeepEqual(got, map[string][]int{"north": {30}, "south": {10}}) {
		t.Errorf("Nearest(k=1) = %v", got)
	}
}

func TestSpatialMatcher_SharedIndex(t *testing.T) {
	collector := metrics.Noop()
	m := NewSpatialMatcher(logging.Discard(), collector)
	meta := &models.StationMetadata{Table: "rain", Stations: []models.Station{stJames, heathrow, rostherne}}

	ix := m.BuildIndex(context.Background(), meta, 2015)
	if ix.Len() != 3 {
		t.Fatalf("index has %d stations, want 3", ix.Len())
	}

	points := []models.QueryPoint{
		{ID: "a", Latitude: 51.5, Longitude: -0.1},
		{ID: "b", Latitude: 53.4, Longitude: -2.3},
	}
	got := ix.Query(points, 1)
	if got["a"][0].Site.ID != stJames.SrcID || got["b"][0].Site.ID != rostherne.SrcID {
		t.Errorf("Query() = %+v", got)
	}
	if got["a"][0].DistanceKm <= 0 || got["a"][0].DistanceKm > 2 {
		t.Errorf("distance to St James = %.3f km", got["a"][0].DistanceKm)
	}
}
