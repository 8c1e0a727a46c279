package database

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

func openMemory(t *testing.T, collector *metrics.Collector) *DB {
	t.Helper()
	db, err := Open(&Config{Driver: DriverSQLite, DSN: ":memory:", MaxOpenConns: 4}, logging.Discard(), collector)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(&Config{Driver: "oracle"}, logging.Discard(), metrics.Noop()); err == nil {
		t.Fatal("Open() error = nil for unsupported driver")
	}
}

func TestDB_ExecAndSelect(t *testing.T) {
	collector := metrics.Noop()
	db := openMemory(t, collector)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "create", `CREATE TABLE stations (src_id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("ExecContext(create) error = %v", err)
	}
	for _, s := range []struct {
		id   int
		name string
	}{{101, "st-james-park"}, {202, "heathrow"}} {
		if _, err := db.ExecContext(ctx, "insert", `INSERT INTO stations (src_id, name) VALUES (?, ?)`, s.id, s.name); err != nil {
			t.Fatalf("ExecContext(insert) error = %v", err)
		}
	}

	var names []string
	if err := db.SelectContext(ctx, "select", &names, `SELECT name FROM stations ORDER BY src_id`); err != nil {
		t.Fatalf("SelectContext() error = %v", err)
	}
	if len(names) != 2 || names[0] != "st-james-park" {
		t.Errorf("names = %v", names)
	}

	var count int
	if err := db.GetContext(ctx, "count", &count, `SELECT COUNT(*) FROM stations WHERE src_id > ?`, 150); err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	if _, err := db.ExecContext(ctx, "bad", `INSERT INTO missing VALUES (1)`); err == nil {
		t.Error("ExecContext() on a missing table returned nil error")
	}
	if got := testutil.ToFloat64(collector.DBErrorsTotal.WithLabelValues("exec_error")); got != 1 {
		t.Errorf("exec_error count = %v, want 1", got)
	}

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
