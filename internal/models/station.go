package models

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// QueryPoint is a caller-supplied location to resolve against the station network
type QueryPoint struct {
	ID        string  `json:"id" validate:"required"`
	Latitude  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Station is one row of a table's station metadata
type Station struct {
	SrcID     int     `json:"src_id" db:"src_id"`
	Latitude  float64 `json:"station_latitude" db:"station_latitude"`
	Longitude float64 `json:"station_longitude" db:"station_longitude"`
	FirstYear int     `json:"first_year" db:"first_year"`
	LastYear  int     `json:"last_year" db:"last_year"`

	// Region and FileName together form the archive path of the station's files
	Region   string `json:"historic_county" db:"historic_county"`
	FileName string `json:"station_file_name" db:"station_file_name"`
}

// ActiveIn reports whether the station was in service during year (inclusive bounds)
func (s Station) ActiveIn(year int) bool {
	return s.FirstYear <= year && year <= s.LastYear
}

// StationMetadata is one table's metadata snapshot, in archive order
type StationMetadata struct {
	Table    string
	URL      string
	Stations []Station
}

// Lookup finds a station by identifier
func (m *StationMetadata) Lookup(srcID int) (Station, bool) {
	for _, s := range m.Stations {
		if s.SrcID == srcID {
			return s, true
		}
	}
	return Station{}, false
}

// Assignment records the nearest active station for one point, table and year
type Assignment struct {
	PointID   string `json:"loc_id" db:"loc_id"`
	Table     string `json:"table" db:"table_name"`
	Year      int    `json:"year" db:"year"`
	StationID int    `json:"src_id" db:"src_id"`
}

// StationMapRow is one (point, year) row of the consolidated map.
// Stations is keyed by table name; tables without an assignment are absent.
type StationMapRow struct {
	LocID    string
	Year     int
	Stations map[string]int
}

// ConsolidatedMap is the point-to-station mapping pivoted to one row per
// (point, year) and one column per requested table
type ConsolidatedMap struct {
	Tables []string
	Rows   []StationMapRow
}

// StationColumn is the column name used for a table's station identifier
func StationColumn(table string) string {
	return "src_id_" + table
}

// MarshalJSON renders the map as an array of flat records with a stable key
// order: loc_id, year, then one src_id_<table> column per table (null when
// the point had no active station for that table and year).
func (m ConsolidatedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range m.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		id, err := json.Marshal(row.LocID)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`{"loc_id":`)
		buf.Write(id)
		buf.WriteString(`,"year":`)
		buf.WriteString(strconv.Itoa(row.Year))
		for _, table := range m.tableOrder() {
			buf.WriteString(`,"` + StationColumn(table) + `":`)
			if src, ok := row.Stations[table]; ok {
				buf.WriteString(strconv.Itoa(src))
			} else {
				buf.WriteString("null")
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// tableOrder falls back to the sorted union of row keys when Tables is unset
func (m ConsolidatedMap) tableOrder() []string {
	if len(m.Tables) > 0 {
		return m.Tables
	}
	seen := make(map[string]struct{})
	for _, row := range m.Rows {
		for t := range row.Stations {
			seen[t] = struct{}{}
		}
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
