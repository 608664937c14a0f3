package ui

import (
	"strings"

	"github.com/ftahirops/xconn/engine"
)

// columnWidths are the display widths of each table column in cells.
var columnWidths = [engine.ColumnCount]int{
	engine.ColumnHost:        30,
	engine.ColumnType:        14,
	engine.ColumnChains:      26,
	engine.ColumnRule:        22,
	engine.ColumnTime:        16,
	engine.ColumnUpload:      11,
	engine.ColumnDownload:    11,
	engine.ColumnSpeed:       24,
	engine.ColumnSource:      22,
	engine.ColumnDestination: 22,
	engine.ColumnProcess:     14,
}

var columnTitles = [engine.ColumnCount]string{
	engine.ColumnHost:        "Host",
	engine.ColumnType:        "Type",
	engine.ColumnChains:      "Chains",
	engine.ColumnRule:        "Rule",
	engine.ColumnTime:        "Time",
	engine.ColumnUpload:      "Upload",
	engine.ColumnDownload:    "Download",
	engine.ColumnSpeed:       "Speed",
	engine.ColumnSource:      "Source",
	engine.ColumnDestination: "Destination",
	engine.ColumnProcess:     "Process",
}

const colGap = 1

// visibleColumns returns the run of columns that fits in width and
// contains cursor, scrolling horizontally when needed.
func visibleColumns(width int, cursor engine.Column) []engine.Column {
	fits := func(first engine.Column) []engine.Column {
		var cols []engine.Column
		used := 0
		for c := first; c < engine.ColumnCount; c++ {
			w := columnWidths[c]
			if used > 0 {
				w += colGap
			}
			if used+w > width && len(cols) > 0 {
				break
			}
			cols = append(cols, c)
			used += w
		}
		return cols
	}
	for first := engine.Column(0); first <= cursor; first++ {
		cols := fits(first)
		if cols[len(cols)-1] >= cursor {
			return cols
		}
	}
	return []engine.Column{cursor}
}

// renderTableHeader renders column titles with the sort arrow and cursor.
func renderTableHeader(cols []engine.Column, cursor engine.Column, st engine.SortState) string {
	cells := make([]string, len(cols))
	for i, c := range cols {
		title := columnTitles[c]
		if st.Active() && st.Column == c {
			if st.Dir == engine.SortAsc {
				title += " ▲"
			} else {
				title += " ▼"
			}
		}
		cell := padRight(title, columnWidths[c])
		switch {
		case c == cursor:
			cells[i] = cursorStyle.Render(cell)
		case !c.Sortable():
			cells[i] = dimStyle.Render(cell)
		default:
			cells[i] = headerStyle.Render(cell)
		}
	}
	return strings.Join(cells, strings.Repeat(" ", colGap))
}

// renderTableRow renders one connection row. Completed rows are dimmed.
func renderTableRow(r *engine.Row, cols []engine.Column, selected bool) string {
	cells := make([]string, len(cols))
	for i, c := range cols {
		v := r.Cell(c)
		if c == engine.ColumnUpload || c == engine.ColumnDownload {
			cells[i] = padLeft(v, columnWidths[c])
		} else {
			cells[i] = padRight(v, columnWidths[c])
		}
	}
	line := strings.Join(cells, strings.Repeat(" ", colGap))
	switch {
	case selected:
		return selectedStyle.Render(line)
	case r.Completed:
		return dimStyle.Render(line)
	}
	return line
}

// renderTable renders header plus at most height rows starting at offset.
func renderTable(rows []engine.Row, cols []engine.Column, cursor engine.Column,
	st engine.SortState, selected, offset, height int) string {
	var sb strings.Builder
	sb.WriteString(renderTableHeader(cols, cursor, st))
	sb.WriteString("\n")
	if len(rows) == 0 {
		sb.WriteString(dimStyle.Render("  no connections"))
		sb.WriteString("\n")
		return sb.String()
	}
	end := offset + height
	if end > len(rows) {
		end = len(rows)
	}
	for i := offset; i < end; i++ {
		sb.WriteString(renderTableRow(&rows[i], cols, i == selected))
		sb.WriteString("\n")
	}
	return sb.String()
}
