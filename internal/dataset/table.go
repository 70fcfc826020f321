// Package dataset flattens cohorts into (patient, day)-indexed tables
// and encodes them as CSV or JSON.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/jregier/n1sim/internal/study"
)

// Options selects the optional columns. WithDates adds a date column,
// DropColumn the dropout truncation day (for dropout tables).
type Options struct {
	WithDates  bool
	DropColumn bool
}

// Table is one flattened cohort. Cells are int, float64, string or
// time.Time; the column layout is fixed by the parameters, so equal
// seeds reproduce byte-identical exports.
type Table struct {
	Columns []string
	Rows    [][]any
}

// FromCohort flattens cohort into one row per (patient, day). Column
// order: identifiers, treatment label, per-exposure indicator and
// effect, baseline drift, latent state, outcome, variables sorted by
// name.
func FromCohort(params *study.Parameters, cohort study.Cohort, opts Options) *Table {
	exposures := params.ExposureNames()
	variables := params.VariableNames()

	cols := []string{"patient_id", "block", "day"}
	if opts.WithDates {
		cols = append(cols, "date")
	}
	cols = append(cols, "treatment")
	for _, name := range exposures {
		cols = append(cols, name, name+"_effect")
	}
	cols = append(cols, "baseline_drift", "underlying_state", params.Outcome.Name)
	cols = append(cols, variables...)
	if opts.DropColumn {
		cols = append(cols, "drop_day")
	}

	t := &Table{Columns: cols}
	for _, traj := range cohort {
		for _, rec := range traj.Days {
			row := make([]any, 0, len(cols))
			row = append(row, traj.Patient, rec.Block, rec.Day)
			if opts.WithDates {
				row = append(row, rec.Date)
			}
			row = append(row, rec.Treatment)
			for _, name := range exposures {
				row = append(row, rec.Indicators[name], rec.Effects[name])
			}
			row = append(row, rec.Drift, rec.Latent, rec.Values[params.Outcome.Name])
			for _, name := range variables {
				row = append(row, rec.Values[name])
			}
			if opts.DropColumn {
				row = append(row, traj.DropDay)
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

// FromRecords rebuilds a table from stored row objects, preserving the
// given column order. Numeric cells come back as float64.
func FromRecords(columns []string, records []map[string]any) *Table {
	t := &Table{Columns: columns}
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = rec[col]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Float reads one cell as a float64.
func (t *Table) Float(row int, column string) (float64, bool) {
	i := t.ColumnIndex(column)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return 0, false
	}
	return toFloat(t.Rows[row][i])
}

// PatientSeries extracts one column for one patient, in day order.
func (t *Table) PatientSeries(patient int, column string) []float64 {
	pi := t.ColumnIndex("patient_id")
	ci := t.ColumnIndex(column)
	if pi < 0 || ci < 0 {
		return nil
	}
	var out []float64
	for _, row := range t.Rows {
		id, ok := toFloat(row[pi])
		if !ok || int(id) != patient {
			continue
		}
		if v, ok := toFloat(row[ci]); ok {
			out = append(out, v)
		}
	}
	return out
}

// Patients lists the distinct patient ids in row order.
func (t *Table) Patients() []int {
	pi := t.ColumnIndex("patient_id")
	if pi < 0 {
		return nil
	}
	seen := map[int]bool{}
	var out []int
	for _, row := range t.Rows {
		if id, ok := toFloat(row[pi]); ok && !seen[int(id)] {
			seen[int(id)] = true
			out = append(out, int(id))
		}
	}
	return out
}

// Record converts one row to a column-keyed object, dates rendered as
// 2006-01-02.
func (t *Table) Record(row int) map[string]any {
	rec := make(map[string]any, len(t.Columns))
	for i, col := range t.Columns {
		rec[col] = normalizeCell(t.Rows[row][i])
	}
	return rec
}

// Summary describes one numeric column of a table.
type Summary struct {
	Column string  `json:"column"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes mean, standard deviation and range per column.
// Columns with no numeric cells are skipped.
func (t *Table) Summarize(columns ...string) []Summary {
	var out []Summary
	for _, col := range columns {
		ci := t.ColumnIndex(col)
		if ci < 0 {
			continue
		}
		var vals []float64
		for _, row := range t.Rows {
			if v, ok := toFloat(row[ci]); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		out = append(out, Summary{
			Column: col,
			Mean:   stat.Mean(vals, nil),
			Std:    stat.StdDev(vals, nil),
			Min:    floats.Min(vals),
			Max:    floats.Max(vals),
		})
	}
	return out
}

// WriteCSV streams the table with a header row. Floats use the
// shortest exact representation so a written table reloads bit for
// bit.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	row := make([]string, len(t.Columns))
	for _, cells := range t.Rows {
		for i, cell := range cells {
			row[i] = formatCell(cell)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type tableJSON struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// WriteJSON streams the table as {"columns": [...], "rows": [[...]]}.
func (t *Table) WriteJSON(w io.Writer) error {
	doc := tableJSON{Columns: t.Columns, Rows: make([][]any, len(t.Rows))}
	for i, cells := range t.Rows {
		row := make([]any, len(cells))
		for j, cell := range cells {
			row[j] = normalizeCell(cell)
		}
		doc.Rows[i] = row
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}

func normalizeCell(v any) any {
	if ts, ok := v.(time.Time); ok {
		if ts.IsZero() {
			return ""
		}
		return ts.Format("2006-01-02")
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
