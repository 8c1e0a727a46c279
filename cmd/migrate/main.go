package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"weather-archive/internal/config"
	"weather-archive/internal/repository"
	"weather-archive/pkg/database"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(&database.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	}, logging.Discard(), metrics.Noop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", cfg.Database.Driver)
	fmt.Printf("Running migration: 001_create_schema.%s\n", *direction)

	if err := repository.Migrate(context.Background(), db, *direction); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		db.Close()
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
