package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"weather-archive/internal/archive"
	"weather-archive/internal/models"
	"weather-archive/internal/services"
	"weather-archive/pkg/logging"
)

// StationMapFile is the consolidated map's file name
const StationMapFile = "station_map.json"

// FileSink writes datasets as {table}_{year}.{ext} and the station map as
// station_map.json under one directory
type FileSink struct {
	dir    string
	writer Writer
	logger *logging.StructuredLogger
}

// NewFileSink creates dir if needed
func NewFileSink(dir string, writer Writer, logger *logging.StructuredLogger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{dir: dir, writer: writer, logger: logger}, nil
}

// DatasetPath returns the file a dataset is written to
func (s *FileSink) DatasetPath(key services.TableYear) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d.%s", key.Table, key.Year, s.writer.Extension()))
}

// WriteDataset writes one table-year dataset
func (s *FileSink) WriteDataset(ctx context.Context, key services.TableYear, t *archive.Table) error {
	path := s.DatasetPath(key)
	if err := writeFile(path, func(f *os.File) error { return s.writer.Write(f, t) }); err != nil {
		return err
	}
	s.logger.Info(ctx, "[OUTPUT_DATASET] Dataset written", logging.Fields{
		"path":   path,
		"format": s.writer.Format(),
		"rows":   t.Len(),
	})
	return nil
}

// StationYearPath returns the file a single station-year download is written to
func (s *FileSink) StationYearPath(table string, stationID, year int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d_%d.%s", table, stationID, year, s.writer.Extension()))
}

// WriteStationYear writes one station's observations for one year
func (s *FileSink) WriteStationYear(ctx context.Context, table string, stationID, year int, t *archive.Table) (string, error) {
	path := s.StationYearPath(table, stationID, year)
	if err := writeFile(path, func(f *os.File) error { return s.writer.Write(f, t) }); err != nil {
		return "", err
	}
	s.logger.Info(ctx, "[OUTPUT_STATION_YEAR] Station-year written", logging.Fields{
		"path":       path,
		"format":     s.writer.Format(),
		"station_id": stationID,
		"rows":       t.Len(),
	})
	return path, nil
}

// WriteStationMap writes the consolidated map as indented JSON records
func (s *FileSink) WriteStationMap(ctx context.Context, m models.ConsolidatedMap) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode station map: %w", err)
	}

	path := filepath.Join(s.dir, StationMapFile)
	if err := writeFile(path, func(f *os.File) error {
		_, err := f.Write(append(data, '\n'))
		return err
	}); err != nil {
		return err
	}
	s.logger.Info(ctx, "[OUTPUT_STATION_MAP] Station map written", logging.Fields{
		"path": path,
		"rows": len(m.Rows),
	})
	return nil
}

// writeFile writes through a temporary file so readers never see a partial file
func writeFile(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// MultiSink fans artifacts out to several sinks in order
type MultiSink []services.Sink

func (m MultiSink) WriteDataset(ctx context.Context, key services.TableYear, t *archive.Table) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteDataset(ctx, key, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) WriteStationMap(ctx context.Context, cm models.ConsolidatedMap) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteStationMap(ctx, cm); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
