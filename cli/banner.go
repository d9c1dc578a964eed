package cli

import (
	"os"
	"strconv"
	"strings"
	"unicode"
)

const (
	boxTopLeft     = "╒"
	boxBottomLeft  = "└"
	boxTopRight    = "╕"
	boxBottomRight = "┘"
	boxSide        = "│"
	boxTop         = "═"
	boxBottom      = "─"
	ellipsis       = "…"

	bannerPadding = 2

	// DefaultTerminalWidth is used when COLUMNS is unset or invalid.
	DefaultTerminalWidth = 80
)

// TerminalWidth reads COLUMNS.
func TerminalWidth() int {
	if w, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && w > bannerPadding {
		return w
	}

	return DefaultTerminalWidth
}

// Banner boxes s, centering each line within width columns. CATALOG_NO_BANNER
// disables the box.
func Banner(s string, width int) string {
	if os.Getenv("CATALOG_NO_BANNER") != "" {
		return s + "\n"
	}

	if width <= bannerPadding {
		return ""
	}

	inner := width - bannerPadding

	var b strings.Builder

	b.WriteString(boxTopLeft + strings.Repeat(boxTop, inner) + boxTopRight + "\n")

	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		b.WriteString(boxSide + padCenter(line, inner) + boxSide + "\n")
	}

	b.WriteString(boxBottomLeft + strings.Repeat(boxBottom, inner) + boxBottomRight + "\n")

	return b.String()
}

func countGraphic(s string) int {
	count := 0

	for _, r := range s {
		if unicode.IsGraphic(r) {
			count++
		}
	}

	return count
}

// truncateGraphic keeps the first n-1 graphic runes.
func truncateGraphic(s string, n int) (string, int) {
	var b strings.Builder

	count := 0

	for _, r := range s {
		if unicode.IsGraphic(r) {
			count++
		}

		if count >= n {
			break
		}

		b.WriteRune(r)
	}

	return b.String(), count
}

func padCenter(text string, width int) string {
	length := countGraphic(text)
	if length == width {
		return text
	}

	if length > width {
		text, length = truncateGraphic(text, width)
		text += ellipsis
	}

	left := (width - length) / 2

	return strings.Repeat(" ", left) + text + strings.Repeat(" ", width-length-left)
}
