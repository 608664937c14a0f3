package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// padRight fits s into exactly width terminal cells, truncating with "…".
func padRight(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.FillRight(truncate(s, width), width)
}

// padLeft right-aligns s in width cells.
func padLeft(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.FillLeft(truncate(s, width), width)
}

// truncate shortens s to maxW cells with an ellipsis if needed.
func truncate(s string, maxW int) string {
	if runewidth.StringWidth(s) <= maxW {
		return s
	}
	if maxW <= 1 {
		return runewidth.Truncate(s, maxW, "")
	}
	return runewidth.Truncate(s, maxW, "…")
}

// styledPad pads a styled string to the given visual width using spaces.
// Unlike fmt.Sprintf("%-Xs"), this accounts for ANSI escape codes.
func styledPad(styled string, width int) string {
	visW := lipgloss.Width(styled)
	if visW >= width {
		return styled
	}
	return styled + strings.Repeat(" ", width-visW)
}

// kv renders a dim label followed by a value.
func kv(label, value string) string {
	return labelStyle.Render(label+" ") + valueStyle.Render(value)
}
