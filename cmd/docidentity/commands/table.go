package commands

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// tableRenderer is implemented by listings that print as a table.
type tableRenderer interface {
	Headers() []string
	Rows() [][]string
}

func printTable(w io.Writer, data tableRenderer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(data.Rows())
	table.Render()
}

func emptyDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
