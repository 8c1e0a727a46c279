// Package output serializes station-year datasets and station maps.
package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"weather-archive/internal/archive"
	"weather-archive/internal/models"
)

// Writer serializes one dataset in a fixed format
type Writer interface {
	Format() string
	Extension() string
	Write(w io.Writer, t *archive.Table) error
}

// NewWriter returns the writer for a configured format name
func NewWriter(format string) (Writer, error) {
	switch strings.ToLower(format) {
	case "csv":
		return CSVWriter{}, nil
	case "json":
		return JSONWriter{}, nil
	case "excel", "xlsx":
		return ExcelWriter{}, nil
	default:
		return nil, &models.ConfigurationError{Field: "OUTPUT_FORMAT", Message: fmt.Sprintf("unsupported output format %q", format)}
	}
}

// CSVWriter writes a header row followed by data rows
type CSVWriter struct{}

func (CSVWriter) Format() string    { return "csv" }
func (CSVWriter) Extension() string { return "csv" }

func (CSVWriter) Write(w io.Writer, t *archive.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// JSONWriter writes an array of records keyed by column name. Numeric cells
// are emitted as numbers and empty cells as null.
type JSONWriter struct{}

func (JSONWriter) Format() string    { return "json" }
func (JSONWriter) Extension() string { return "json" }

func (JSONWriter) Write(w io.Writer, t *archive.Table) error {
	bw := bufio.NewWriter(w)

	keys := make([][]byte, len(t.Columns))
	for i, c := range t.Columns {
		k, err := json.Marshal(c)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	bw.WriteByte('[')
	for r, row := range t.Rows {
		if r > 0 {
			bw.WriteByte(',')
		}
		bw.WriteString("\n  {")
		for i, cell := range row {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.Write(keys[i])
			bw.WriteByte(':')
			v, err := jsonValue(cell)
			if err != nil {
				return err
			}
			bw.Write(v)
		}
		bw.WriteByte('}')
	}
	if len(t.Rows) > 0 {
		bw.WriteByte('\n')
	}
	bw.WriteString("]\n")
	return bw.Flush()
}

func jsonValue(cell string) ([]byte, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(cell, 64); err == nil && json.Valid([]byte(cell)) {
		return []byte(cell), nil
	}
	return json.Marshal(cell)
}

// ExcelWriter writes a single-sheet xlsx workbook
type ExcelWriter struct{}

// SheetName is the worksheet that holds the dataset
const SheetName = "Sheet1"

func (ExcelWriter) Format() string    { return "excel" }
func (ExcelWriter) Extension() string { return "xlsx" }

func (ExcelWriter) Write(w io.Writer, t *archive.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("failed to open worksheet: %w", err)
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for r, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for i, v := range row {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				cells[i] = n
			} else {
				cells[i] = v
			}
		}
		axis, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(axis, cells); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}
