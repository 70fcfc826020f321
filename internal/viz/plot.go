package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/jregier/n1sim/internal/dataset"
)

// PlotSeries renders one float series as an ASCII chart.
func PlotSeries(series []float64, caption string, width, height int) string {
	return asciigraph.Plot(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}

// PlotColumn renders a table column against day, one chart per
// patient. Patient -1 selects every patient in the table.
func PlotColumn(tbl *dataset.Table, column string, patient, width, height int) (string, error) {
	if tbl.ColumnIndex(column) < 0 {
		return "", fmt.Errorf("viz: unknown column %q", column)
	}

	patients := tbl.Patients()
	if patient >= 0 {
		patients = []int{patient}
	}

	var b strings.Builder
	for _, p := range patients {
		series := tbl.PatientSeries(p, column)
		if len(series) == 0 {
			return "", fmt.Errorf("viz: no rows for patient %d", p)
		}
		caption := fmt.Sprintf("%s, patient %d (%d days)", column, p, len(series))
		b.WriteString(PlotSeries(series, caption, width, height))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}
