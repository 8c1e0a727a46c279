package services

import (
	"sort"

	"weather-archive/internal/models"
)

// AssignmentBuilder collects assignments during a run and pivots them into
// the consolidated map once the run is complete
type AssignmentBuilder struct {
	tables      []string
	assignments []models.Assignment
}

// NewAssignmentBuilder creates a builder whose map columns follow tables
func NewAssignmentBuilder(tables []string) *AssignmentBuilder {
	return &AssignmentBuilder{tables: append([]string(nil), tables...)}
}

// Add records one assignment
func (b *AssignmentBuilder) Add(a models.Assignment) {
	b.assignments = append(b.assignments, a)
}

// Assignments returns a copy of the recorded assignments in insertion order
func (b *AssignmentBuilder) Assignments() []models.Assignment {
	return append([]models.Assignment(nil), b.assignments...)
}

// Build pivots assignments into one row per (point, year), sorted by point
// id then year. A later assignment for the same key replaces an earlier one.
func (b *AssignmentBuilder) Build() models.ConsolidatedMap {
	type key struct {
		loc  string
		year int
	}

	rows := make(map[key]map[string]int)
	for _, a := range b.assignments {
		k := key{loc: a.PointID, year: a.Year}
		if rows[k] == nil {
			rows[k] = make(map[string]int)
		}
		rows[k][a.Table] = a.StationID
	}

	out := models.ConsolidatedMap{
		Tables: append([]string(nil), b.tables...),
		Rows:   make([]models.StationMapRow, 0, len(rows)),
	}
	for k, stations := range rows {
		out.Rows = append(out.Rows, models.StationMapRow{LocID: k.loc, Year: k.year, Stations: stations})
	}
	sort.Slice(out.Rows, func(i, j int) bool {
		if out.Rows[i].LocID != out.Rows[j].LocID {
			return out.Rows[i].LocID < out.Rows[j].LocID
		}
		return out.Rows[i].Year < out.Rows[j].Year
	})
	return out
}
