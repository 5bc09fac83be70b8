// Package dataset loads tabular data files and produces the compact
// descriptions fed into model prompts and fallback reports.
package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// NoFileDescription is used in prompts when the request carries no dataset.
const NoFileDescription = "No file uploaded. Proceed with the analysis the user asked for."

// previewColumns caps how many columns the prompt-facing description lists.
const previewColumns = 5

// Table is an in-memory tabular dataset.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// ColumnStats summarizes one numeric column.
type ColumnStats struct {
	Name  string
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
}

// Summary captures dataset shape and per-column statistics for the
// built-in fallback report.
type Summary struct {
	Name        string
	RowCount    int
	ColumnCount int
	Numeric     []ColumnStats
	Categorical []string
	Missing     int
}

// Load reads a delimited file into a Table. Tab-separated files are
// detected by extension; everything else is treated as comma-separated.
// A UTF-8 byte order mark on the header is stripped.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		r.Comma = '\t'
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", filepath.Base(path))
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	return &Table{
		Name:    filepath.Base(path),
		Columns: header,
		Rows:    records[1:],
	}, nil
}

// Describe returns the short dataset description interpolated into model
// prompts: file name, shape, and a preview of the leading columns. An empty
// path yields the no-file placeholder.
func Describe(path string) (string, error) {
	if path == "" {
		return NoFileDescription, nil
	}
	t, err := Load(path)
	if err != nil {
		return "", err
	}

	cols := t.Columns
	suffix := ""
	if len(cols) > previewColumns {
		cols = cols[:previewColumns]
		suffix = ", ..."
	}
	return fmt.Sprintf("File: %s\nShape: %d rows x %d columns\nColumns: %s%s",
		t.Name, len(t.Rows), len(t.Columns), strings.Join(cols, ", "), suffix), nil
}

// Summarize computes shape, missing-value count, and per-column statistics.
// A column is numeric when every non-empty cell parses as a float.
func Summarize(path string) (*Summary, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Name:        t.Name,
		RowCount:    len(t.Rows),
		ColumnCount: len(t.Columns),
	}

	for i, name := range t.Columns {
		var values []float64
		numeric := true
		for _, row := range t.Rows {
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				s.Missing++
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			if err != nil {
				numeric = false
				continue
			}
			values = append(values, v)
		}
		if numeric && len(values) > 0 {
			s.Numeric = append(s.Numeric, stats(name, values))
		} else {
			s.Categorical = append(s.Categorical, name)
		}
	}
	return s, nil
}

func stats(name string, values []float64) ColumnStats {
	cs := ColumnStats{Name: name, Count: len(values)}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	cs.Min = sorted[0]
	cs.Max = sorted[len(sorted)-1]

	var sum float64
	for _, v := range values {
		sum += v
	}
	cs.Mean = sum / float64(len(values))

	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			d := v - cs.Mean
			sq += d * d
		}
		cs.Std = math.Sqrt(sq / float64(len(values)-1))
	}
	return cs
}
