package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Label turns a snake_case column name into a display label.
func Label(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}

// Result renders a result set in the effective mode.
func (r *Renderer) Result(rs *core.ResultSet) error {
	switch r.EffectiveMode() {
	case ModeJSON:
		return r.JSON(rs)
	case ModeMarkdown:
		return RenderTable(r.out, rs, ModeMarkdown)
	default:
		return RenderTable(r.out, rs, ModeText)
	}
}

// Table renders arbitrary rows under labelled headers.
func (r *Renderer) Table(headers []string, rows [][]any) {
	t := newTable(r.out, headers)
	for _, row := range rows {
		t.AppendRow(formatRow(row))
	}
	if r.EffectiveMode() == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

// RenderTable writes rs as a box table (text) or a pipe table (markdown), followed by a row count.
func RenderTable(w io.Writer, rs *core.ResultSet, mode Mode) error {
	if rs.Len() == 0 {
		_, err := fmt.Fprintln(w, "(0 rows)")
		return err
	}

	t := newTable(w, rs.Columns)
	for _, row := range rs.Rows {
		t.AppendRow(formatRow(row))
	}

	if mode == ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", rs.Len())
	return err
}

// RenderCSV writes rs as CSV.
func RenderCSV(w io.Writer, rs *core.ResultSet) {
	t := newTable(w, rs.Columns)
	for _, row := range rs.Rows {
		t.AppendRow(formatRow(row))
	}
	t.RenderCSV()
}

func newTable(w io.Writer, headers []string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	t.AppendHeader(header)
	return t
}

func formatRow(values []any) table.Row {
	row := make(table.Row, len(values))
	for i, v := range values {
		row[i] = FormatValue(v)
	}
	return row
}

// FormatValue renders one cell.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case float64:
		return fmt.Sprintf("%.6g", val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
