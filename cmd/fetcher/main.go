package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"weather-archive/internal/app"
	"weather-archive/internal/config"
	"weather-archive/internal/models"
	"weather-archive/internal/output"
	"weather-archive/internal/repository"
	"weather-archive/internal/services"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// columnsFlag collects repeated -columns table=col1,col2 values
type columnsFlag []string

func (c *columnsFlag) String() string { return strings.Join(*c, " ") }

func (c *columnsFlag) Set(v string) error {
	*c = append(*c, v)
	return nil
}

func main() {
	var columnSpecs columnsFlag
	locationsPath := flag.String("locations", "", "CSV or JSON file of locations (id, lat, lon)")
	yearsSpec := flag.String("years", "", "Years to resolve, e.g. 2015 or 2010-2015")
	tablesSpec := flag.String("tables", "", "Comma-separated tables (default: all configured)")
	k := flag.Int("k", services.DefaultK, "Ranked station candidates per point")
	outDir := flag.String("out", "", "Output directory (default: OUTPUT_DIR)")
	format := flag.String("format", "", "Output format: csv, json or excel (default: OUTPUT_FORMAT)")
	persist := flag.Bool("persist", false, "Also store the station map and rows in the database")
	timeout := flag.Duration("timeout", 0, "Overall deadline for the run (0 for none)")
	station := flag.Int("station", 0, "Download a single station id for one table and one year instead of resolving locations")
	flag.Var(&columnSpecs, "columns", "Column subset per table as table=col1,col2 (repeatable)")
	flag.Parse()

	if (*station == 0 && *locationsPath == "") || *yearsSpec == "" {
		fmt.Fprintln(os.Stderr, "usage: fetcher -locations FILE -years 2010-2015 [-tables t1,t2] [-columns table=c1,c2] [-k 3] [-out DIR] [-format csv|json|excel] [-persist]")
		fmt.Fprintln(os.Stderr, "       fetcher -station ID -tables TABLE -years YEAR [-columns TABLE=c1,c2] [-out DIR] [-format csv|json|excel]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "weather-archive-fetcher")
	metricsCollector := metrics.NewCollector("weather_archive")

	runID := uuid.NewString()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRunID(ctx, runID)
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	years, err := services.ParseYears(*yearsSpec)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Invalid years", logging.Fields{"years": *yearsSpec}, err)
	}
	tables := splitList(*tablesSpec)
	columns, err := services.ParseColumns(columnSpecs)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Invalid column subset", logging.Fields{"columns": columnSpecs.String()}, err)
	}

	stack, err := app.NewStack(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Failed to configure archive client", logging.Fields{}, err)
	}

	writer, err := output.NewWriter(cfg.Output.Format)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Invalid output format", logging.Fields{"format": cfg.Output.Format}, err)
	}
	files, err := output.NewFileSink(cfg.Output.Dir, writer, logger)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Failed to prepare output directory", logging.Fields{"dir": cfg.Output.Dir}, err)
	}

	if *station != 0 {
		if len(tables) != 1 || len(years) != 1 {
			logger.Fatal(ctx, "[FETCHER_ERROR] Single station download needs exactly one table and one year", logging.Fields{
				"tables": tables,
				"years":  years,
			}, nil)
		}
		downloadStationYear(ctx, stack, files, tables[0], *station, years[0], columns[tables[0]], logger)
		return
	}

	points, err := readLocations(*locationsPath)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Failed to read locations", logging.Fields{"path": *locationsPath}, err)
	}

	sinks := output.MultiSink{files}

	if *persist {
		db, repo, err := app.OpenDatabase(ctx, cfg, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[FETCHER_ERROR] Failed to open database", logging.Fields{"driver": cfg.Database.Driver}, err)
		}
		defer db.Close()
		sinks = append(sinks, repository.NewSink(repo, runID))
	}

	logger.Info(ctx, "[FETCHER_START] Starting station download", logging.Fields{
		"version":   app.Version,
		"locations": len(points),
		"years":     years,
		"tables":    tables,
		"out_dir":   cfg.Output.Dir,
		"format":    writer.Format(),
		"persist":   *persist,
	})

	start := time.Now()
	result, err := stack.Orchestrator.Resolve(ctx, services.ResolveRequest{
		Points:  points,
		Years:   years,
		Tables:  tables,
		Columns: columns,
		K:       *k,
	}, sinks)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Download failed", logging.Fields{}, err)
	}
	duration := time.Since(start)

	keys := make([]services.TableYear, 0, len(result.Datasets))
	for key := range result.Datasets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Table != keys[j].Table {
			return keys[i].Table < keys[j].Table
		}
		return keys[i].Year < keys[j].Year
	})

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("DOWNLOAD COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:          %s\n", runID)
	fmt.Printf("Locations:       %d\n", len(points))
	fmt.Printf("Station map:     %s (%d rows)\n", filepath.Join(cfg.Output.Dir, output.StationMapFile), len(result.Map.Rows))
	fmt.Printf("Duration:        %v\n", duration.Round(time.Millisecond))
	for _, key := range keys {
		fmt.Printf("  %-24s %6d rows  %s\n", key.String(), result.Datasets[key].Len(), files.DatasetPath(key))
	}
	if len(result.SkippedTables) > 0 {
		fmt.Printf("Skipped tables:  %s\n", strings.Join(result.SkippedTables, ", "))
	}

	logger.Info(ctx, "[FETCHER_COMPLETE] Station download completed", logging.Fields{
		"map_rows":         len(result.Map.Rows),
		"datasets":         len(result.Datasets),
		"skipped_tables":   result.SkippedTables,
		"duration_seconds": duration.Seconds(),
	})
}

func downloadStationYear(ctx context.Context, stack *app.Stack, files *output.FileSink, table string, stationID, year int, columns []string, logger *logging.StructuredLogger) {
	logger.Info(ctx, "[FETCHER_START] Starting single station-year download", logging.Fields{
		"version":    app.Version,
		"table":      table,
		"station_id": stationID,
		"year":       year,
		"columns":    columns,
	})

	start := time.Now()
	t, err := stack.Orchestrator.DownloadStationYear(ctx, table, stationID, year, columns)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Station-year download failed", logging.Fields{
			"table":      table,
			"station_id": stationID,
			"year":       year,
		}, err)
	}
	path, err := files.WriteStationYear(ctx, table, stationID, year, t)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Failed to write station-year", logging.Fields{}, err)
	}
	duration := time.Since(start)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("DOWNLOAD COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Station:         %d (%s, %d)\n", stationID, table, year)
	fmt.Printf("Rows:            %d\n", t.Len())
	fmt.Printf("Output:          %s\n", path)
	fmt.Printf("Duration:        %v\n", duration.Round(time.Millisecond))

	logger.Info(ctx, "[FETCHER_COMPLETE] Station-year download completed", logging.Fields{
		"rows":             t.Len(),
		"path":             path,
		"duration_seconds": duration.Seconds(),
	})
}

func readLocations(path string) ([]models.QueryPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return services.DecodeLocations(f, format)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
