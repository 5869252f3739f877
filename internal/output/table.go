package output

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jgoulah/remotemeter/pkg/models"
)

// NewTable returns a rounded table writer that renders to w
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// RenderMonths writes one table per month with a daily usage total footer
func RenderMonths(w io.Writer, months []models.MonthReadings) {
	for i := range months {
		m := &months[i]

		t := NewTable(w)
		t.SetTitle(fmt.Sprintf("%d-%02d", m.Year, m.Month))
		t.AppendHeader(table.Row{"Date", "Cumulative kWh", "Daily kWh"})
		for _, r := range m.Readings {
			t.AppendRow(table.Row{r.Date, kwh(r.CumulativeUsage), kwh(r.DailyUsage)})
		}
		t.AppendFooter(table.Row{
			fmt.Sprintf("%d days", len(m.Readings)),
			"Total",
			kwh(m.TotalDailyUsage()),
		})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
			{Number: 3, Align: text.AlignRight, AlignFooter: text.AlignRight},
		})
		t.Render()
	}
}

func kwh(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}
