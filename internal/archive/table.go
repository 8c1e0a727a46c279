package archive

import (
	"fmt"
	"time"
)

// Table is a decoded archive file. Rows hold raw cell text in Columns order;
// date columns are normalised to RFC 3339 and their parsed values are kept
// in Dates, aligned with Rows.
type Table struct {
	Columns []string
	Rows    [][]string
	Dates   map[string][]time.Time
}

// EmptyTable is the zero-row result for absent archive resources
func EmptyTable() *Table {
	return &Table{}
}

// Empty reports whether the table has no rows
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of a column, or -1
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at row i for the named column
func (t *Table) Value(i int, column string) (string, bool) {
	idx := t.ColumnIndex(column)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return "", false
	}
	return t.Rows[i][idx], true
}

// Time returns the parsed timestamp at row i for a date column
func (t *Table) Time(i int, column string) (time.Time, bool) {
	times, ok := t.Dates[column]
	if !ok || i < 0 || i >= len(times) || times[i].IsZero() {
		return time.Time{}, false
	}
	return times[i], true
}

// Select returns a copy restricted to columns, in the given order. Columns
// missing from t are filled with empty cells and reported in missing, so
// that station-year tables from different stations always share a shape.
func (t *Table) Select(columns []string) (out *Table, missing []string) {
	if len(columns) == 0 {
		return t, nil
	}

	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.ColumnIndex(c)
		if idx[i] < 0 {
			missing = append(missing, c)
		}
	}

	out = &Table{
		Columns: append([]string(nil), columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for r, row := range t.Rows {
		sel := make([]string, len(columns))
		for i, j := range idx {
			if j >= 0 {
				sel[i] = row[j]
			}
		}
		out.Rows[r] = sel
	}
	for _, c := range columns {
		if times, ok := t.Dates[c]; ok {
			if out.Dates == nil {
				out.Dates = make(map[string][]time.Time)
			}
			out.Dates[c] = times
		}
	}
	return out, missing
}

// WithColumn sets column name to value on every row, appending the column
// when it does not exist yet
func (t *Table) WithColumn(name, value string) *Table {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		for r := range t.Rows {
			t.Rows[r] = append(t.Rows[r], value)
		}
		return t
	}
	for r := range t.Rows {
		t.Rows[r][idx] = value
	}
	return t
}

// Concat stacks tables that share the same columns
func Concat(tables ...*Table) (*Table, error) {
	var out *Table
	for _, t := range tables {
		if t.Empty() {
			continue
		}
		if out == nil {
			out = &Table{Columns: append([]string(nil), t.Columns...)}
		} else if !sameColumns(out.Columns, t.Columns) {
			return nil, fmt.Errorf("cannot concatenate tables with columns %v and %v", out.Columns, t.Columns)
		}

		base := len(out.Rows)
		out.Rows = append(out.Rows, t.Rows...)
		for c, times := range t.Dates {
			if out.Dates == nil {
				out.Dates = make(map[string][]time.Time)
			}
			col := out.Dates[c]
			if len(col) < base {
				col = append(col, make([]time.Time, base-len(col))...)
			}
			out.Dates[c] = append(col, times...)
		}
	}
	if out == nil {
		return EmptyTable(), nil
	}
	for c, times := range out.Dates {
		if len(times) < len(out.Rows) {
			out.Dates[c] = append(times, make([]time.Time, len(out.Rows)-len(times))...)
		}
	}
	return out, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
