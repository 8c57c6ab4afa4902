package metrics

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/mat"
)

// Render writes a confusion matrix as a table, rows are true labels.
func Render(w io.Writer, m *mat.Dense, prefix string) {
	r, c := m.Dims()
	table := tablewriter.NewWriter(w)
	header := make([]string, c+1)
	header[0] = "true\\pred"
	for j := 0; j < c; j++ {
		header[j+1] = prefix + strconv.Itoa(j)
	}
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for i := 0; i < r; i++ {
		row := make([]string, c+1)
		row[0] = prefix + strconv.Itoa(i)
		for j := 0; j < c; j++ {
			row[j+1] = strconv.FormatFloat(m.At(i, j), 'f', 0, 64)
		}
		table.Append(row)
	}
	table.Render()
}

// RenderString is Render into a string, for log lines.
func RenderString(m *mat.Dense, prefix string) string {
	var sb strings.Builder
	Render(&sb, m, prefix)
	return sb.String()
}

// FormatAccs prints an accuracy list the way the history is logged.
func FormatAccs(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.2f", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
