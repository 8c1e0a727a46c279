package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"weather-archive/internal/models"
)

// DataMarker is the line that separates the free-text preamble from the header
const DataMarker = "data"

// dateLayouts are tried in order when parsing date columns
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// SkippedRow describes a malformed body row dropped during decoding
type SkippedRow struct {
	Line   int
	Reason string
}

// Decode parses the archive dialect: a free-text preamble, a line reading
// "data", a header row, comma-separated body rows and one trailing footer
// row, which is dropped. Column names are lower-cased and trimmed. Rows with
// too many fields or unparseable dates are skipped and reported; short rows
// are padded with empty cells.
func Decode(raw string, dateColumns []string) (*Table, []SkippedRow, error) {
	var (
		lineNo   int
		rest     = raw
		marker   bool
		header   string
		haveHead bool
	)
	for rest != "" {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		lineNo++
		if marker {
			header = line
			haveHead = true
			break
		}
		if strings.ToLower(strings.TrimSpace(line)) == DataMarker {
			marker = true
		}
	}
	if !marker {
		return nil, nil, &models.FormatError{Message: fmt.Sprintf("%q marker not found", DataMarker)}
	}
	if !haveHead {
		return nil, nil, &models.FormatError{Message: "header row missing after data marker"}
	}

	columns := splitHeader(header)
	reader := csv.NewReader(strings.NewReader(rest))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	type record struct {
		line   int
		fields []string
	}
	var (
		records []record
		skipped []SkippedRow
	)
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			line := 0
			if errors.As(err, &pe) {
				line = pe.Line
			}
			skipped = append(skipped, SkippedRow{Line: lineNo + line, Reason: err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)
		records = append(records, record{line: lineNo + line, fields: fields})
	}

	// the final record is the footer
	if len(records) > 0 {
		records = records[:len(records)-1]
	}

	dateIdx := make(map[int]string)
	for _, name := range dateColumns {
		for i, c := range columns {
			if c == strings.ToLower(strings.TrimSpace(name)) {
				dateIdx[i] = c
			}
		}
	}

	table := &Table{Columns: columns, Rows: make([][]string, 0, len(records))}
	if len(dateIdx) > 0 {
		table.Dates = make(map[string][]time.Time, len(dateIdx))
	}

	for _, rec := range records {
		if len(rec.fields) > len(columns) {
			skipped = append(skipped, SkippedRow{
				Line:   rec.line,
				Reason: fmt.Sprintf("expected %d fields, saw %d", len(columns), len(rec.fields)),
			})
			continue
		}
		row := make([]string, len(columns))
		for i, f := range rec.fields {
			row[i] = strings.TrimSpace(f)
		}

		parsed := make(map[string]time.Time, len(dateIdx))
		bad := ""
		for i, name := range dateIdx {
			if row[i] == "" {
				continue
			}
			ts, err := parseDate(row[i])
			if err != nil {
				bad = fmt.Sprintf("column %s: %v", name, err)
				break
			}
			parsed[name] = ts
			row[i] = ts.Format(time.RFC3339)
		}
		if bad != "" {
			skipped = append(skipped, SkippedRow{Line: rec.line, Reason: bad})
			continue
		}

		table.Rows = append(table.Rows, row)
		for _, name := range dateIdx {
			table.Dates[name] = append(table.Dates[name], parsed[name])
		}
	}

	return table, skipped, nil
}

func splitHeader(header string) []string {
	parts := strings.Split(strings.TrimRight(header, "\r"), ",")
	columns := make([]string, len(parts))
	for i, p := range parts {
		columns[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return columns
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
