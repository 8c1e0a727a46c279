package repository

import (
	"context"
	"reflect"
	"testing"

	"weather-archive/internal/archive"
	"weather-archive/internal/models"
	"weather-archive/internal/services"
	"weather-archive/pkg/database"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

func newTestRepository(t *testing.T) (StationMapRepository, *database.DB) {
	t.Helper()
	logger := logging.Discard()
	collector := metrics.Noop()

	db, err := database.Open(&database.Config{Driver: database.DriverSQLite, DSN: ":memory:"}, logger, collector)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(context.Background(), db, "up"); err != nil {
		t.Fatalf("Migrate(up) error = %v", err)
	}
	return NewStationMapRepository(db, logger, collector), db
}

func TestStationMapRepository_Assignments(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	assignments := []models.Assignment{
		{PointID: "B", Table: "temperature", Year: 2015, StationID: 101},
		{PointID: "A", Table: "rain", Year: 2015, StationID: 202},
		{PointID: "A", Table: "temperature", Year: 2015, StationID: 101},
	}
	if err := repo.SaveAssignments(ctx, "run-1", assignments); err != nil {
		t.Fatalf("SaveAssignments() error = %v", err)
	}
	// re-saving replaces the station for an existing key
	if err := repo.SaveAssignments(ctx, "run-1", []models.Assignment{{PointID: "A", Table: "rain", Year: 2015, StationID: 303}}); err != nil {
		t.Fatalf("SaveAssignments() error = %v", err)
	}
	if err := repo.SaveAssignments(ctx, "run-2", assignments[:1]); err != nil {
		t.Fatalf("SaveAssignments() error = %v", err)
	}

	got, err := repo.ListAssignments(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListAssignments() error = %v", err)
	}
	want := []models.Assignment{
		{PointID: "A", Table: "rain", Year: 2015, StationID: 303},
		{PointID: "A", Table: "temperature", Year: 2015, StationID: 101},
		{PointID: "B", Table: "temperature", Year: 2015, StationID: 101},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListAssignments() = %+v, want %+v", got, want)
	}
}

func TestStationMapRepository_Dataset(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	key := services.TableYear{Table: "temperature", Year: 2015}

	table := &archive.Table{
		Columns: []string{"ob_end_time", "max_air_temp", "src_id"},
		Rows: [][]string{
			{"2015-01-01T09:00:00Z", "10.5", "101"},
			{"2015-01-02T09:00:00Z", "9.1", "101"},
			{"2015-01-01T09:00:00Z", "7.0", "303"},
		},
	}
	if err := repo.SaveDataset(ctx, "run-1", key, table); err != nil {
		t.Fatalf("SaveDataset() error = %v", err)
	}
	if err := repo.SaveDataset(ctx, "run-1", key, archive.EmptyTable()); err != nil {
		t.Fatalf("SaveDataset(empty) error = %v", err)
	}

	n, err := repo.CountDatasetRows(ctx, "run-1", key)
	if err != nil {
		t.Fatalf("CountDatasetRows() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountDatasetRows() = %d, want 3", n)
	}

	var payload string
	if err := db.GetContext(ctx, "payload", &payload, `SELECT payload FROM station_year_rows WHERE run_id = ? AND row_num = ?`, "run-1", 2); err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	want := `{"max_air_temp":"7.0","ob_end_time":"2015-01-01T09:00:00Z","src_id":"303"}`
	if payload != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}

	var src int
	if err := db.GetContext(ctx, "src", &src, `SELECT src_id FROM station_year_rows WHERE run_id = ? AND row_num = ?`, "run-1", 2); err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if src != 303 {
		t.Errorf("src_id = %d, want 303", src)
	}
}

func TestSink(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	sink := NewSink(repo, "run-9")

	m := models.ConsolidatedMap{
		Tables: []string{"temperature", "rain"},
		Rows: []models.StationMapRow{
			{LocID: "A", Year: 2014, Stations: map[string]int{"temperature": 101, "rain": 202}},
			{LocID: "A", Year: 2015, Stations: map[string]int{"temperature": 101}},
		},
	}
	if err := sink.WriteStationMap(ctx, m); err != nil {
		t.Fatalf("WriteStationMap() error = %v", err)
	}

	got, err := repo.ListAssignments(ctx, "run-9")
	if err != nil {
		t.Fatalf("ListAssignments() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("stored %d assignments, want 3", len(got))
	}
}

func TestMigrate_Down(t *testing.T) {
	_, db := newTestRepository(t)
	ctx := context.Background()

	if err := Migrate(ctx, db, "down"); err != nil {
		t.Fatalf("Migrate(down) error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "table_check", `SELECT 1 FROM station_map`); err == nil {
		t.Error("station_map still exists after migrating down")
	}
	if err := Migrate(ctx, db, "sideways"); err == nil {
		t.Error("Migrate() accepted an unknown direction")
	}
}
