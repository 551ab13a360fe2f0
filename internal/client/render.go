package client

import (
	"bytes"
	"strings"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// Renderer formats server lines for the terminal. Member and group lists
// and message payloads are additionally laid out as tables.
type Renderer struct {
	colour bool
}

// NewRenderer creates a Renderer; colour toggles ANSI styling.
func NewRenderer(colour bool) *Renderer {
	return &Renderer{colour: colour}
}

// Render returns the text to print for one server line, without a
// trailing newline.
func (r *Renderer) Render(line string) string {
	styled := r.style(line)
	if table := r.table(line); table != "" {
		return styled + "\n" + strings.TrimRight(table, "\n")
	}
	return styled
}

func (r *Renderer) style(line string) string {
	if !r.colour {
		return line
	}
	prefix, _, _ := strings.Cut(line, " ")
	switch prefix {
	case "OK":
		return color.FgGreen.Render(line)
	case "ERR":
		return color.FgRed.Render(line)
	case "EVENT":
		return color.FgCyan.Render(line)
	default:
		return line
	}
}

// table builds a table for list and message replies, or returns "".
func (r *Renderer) table(line string) string {
	fields := strings.SplitN(line, " ", 4)
	if len(fields) < 3 {
		return ""
	}

	switch fields[0] + " " + fields[1] {
	case "OK GROUP_LIST":
		return renderTable([]string{"Group"}, column(fields[2]))
	case "OK LOBBY_USERS":
		return renderTable([]string{"User"}, column(fields[2]))
	case "OK GROUP_USERS":
		if len(fields) < 4 {
			return ""
		}
		return renderTable([]string{"User"}, column(fields[3]))
	case "OK MESSAGE":
		if len(fields) < 4 {
			return ""
		}
		if row := strings.SplitN(fields[3], "|", 5); len(row) == 5 {
			return renderTable([]string{"ID", "Sender", "Time", "Subject", "Body"}, [][]string{row})
		}
	}
	return ""
}

func column(list string) [][]string {
	names := lo.Compact(strings.Split(list, ","))
	return lo.Map(names, func(name string, _ int) []string {
		return []string{name}
	})
}

func renderTable(header []string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
	return buf.String()
}
