package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"burnline/internal/burndown"
)

func renderBurndown(w io.Writer, res burndown.Result) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("%s  %s .. %s", res.ScopeName, res.StartDate, res.EndDate))
	tw.AppendHeader(table.Row{"Date", "Remaining", "Completed", "Added", "Reopened"})
	for _, s := range res.DailySnapshots {
		tw.AppendRow(table.Row{s.Date, s.Remaining, s.Completed, s.Added, s.Reopened})
	}
	from := "n/a"
	if res.DataAvailableFrom != nil {
		from = *res.DataAvailableFrom
	}
	tw.AppendFooter(table.Row{"tasks at start", res.TotalTasksAtStart, "history from", from, ""})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	tw.Render()
}
