package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"github.com/mklimuk/frontdesk/pkg/passon"
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	heading = color.New(color.Bold, color.Underline).SprintFunc()
)

func newTable(header ...interface{}) *uitable.Table {
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 60
	tbl.Wrap = true
	if len(header) > 0 {
		for i, h := range header {
			header[i] = bold(h)
		}
		tbl.AddRow(header...)
	}
	return tbl
}

func printTable(w io.Writer, title string, tbl *uitable.Table) {
	if title != "" {
		_, _ = fmt.Fprintln(w, heading(title))
	}
	_, _ = fmt.Fprintln(w, tbl)
}

func urgency(u passon.Urgency) string {
	switch u {
	case passon.High:
		return red("HIGH")
	case passon.Medium:
		return yellow("MED")
	}
	return "low"
}
