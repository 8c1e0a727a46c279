package archive

import (
	"fmt"
	"strings"

	"weather-archive/internal/models"
)

// URLBuilder reproduces the archive's path scheme for metadata and station-year files
type URLBuilder struct {
	BaseURL string
	Version string
	// Tables maps logical table names to archive slugs
	Tables map[string]string
}

// Slug returns the archive slug for a logical table name
func (b URLBuilder) Slug(table string) (string, error) {
	slug, ok := b.Tables[table]
	if !ok {
		return "", models.UnknownTable(table)
	}
	return slug, nil
}

// MetadataURL returns the canonical station-metadata URL for a table
func (b URLBuilder) MetadataURL(table string) (string, error) {
	slug, err := b.Slug(table)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/dataset-version-%s/midas-open_%s_dv-%s_station-metadata.csv",
		strings.TrimRight(b.BaseURL, "/"), slug, b.Version, slug, b.Version), nil
}

// StationYearURL returns the observation file URL for one station and year
func (b URLBuilder) StationYearURL(table string, station models.Station, year int) (string, error) {
	slug, err := b.Slug(table)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/dataset-version-%s/%s/%d_%s/qc-version-1/midas-open_%s_dv-%s_%s_%d_%s_qcv-1_%d.csv",
		strings.TrimRight(b.BaseURL, "/"), slug, b.Version,
		station.Region, station.SrcID, station.FileName,
		slug, b.Version, station.Region, station.SrcID, station.FileName, year), nil
}
