package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// column defines a table column.
type column struct {
	Header   string
	MaxWidth int
	Align    lipgloss.Position
}

// table renders rows as aligned text, with a styled header when styled is
// set.
type table struct {
	Columns []column
	Rows    [][]string
	styled  bool
}

func newTable(styled bool, cols ...column) *table {
	return &table{Columns: cols, styled: styled}
}

func (t *table) addRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (t *table) render() string {
	if len(t.Columns) == 0 {
		return ""
	}
	widths := t.widths()

	var lines []string
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	var header []string
	for i, col := range t.Columns {
		cell := padCell(col.Header, widths[i], col.Align)
		if t.styled {
			cell = headerStyle.Render(cell)
		}
		header = append(header, cell)
	}
	lines = append(lines, strings.TrimRight(strings.Join(header, "  "), " "))
	lines = append(lines, strings.Repeat("-", totalWidth(widths)))

	for _, row := range t.Rows {
		var cells []string
		for i, col := range t.Columns {
			content := ""
			if i < len(row) {
				content = row[i]
			}
			cells = append(cells, padCell(content, widths[i], col.Align))
		}
		lines = append(lines, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
	return strings.Join(lines, "\n")
}

func (t *table) widths() []int {
	widths := make([]int, len(t.Columns))
	for i, col := range t.Columns {
		widths[i] = len(col.Header)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	for i, col := range t.Columns {
		if col.MaxWidth > 0 && widths[i] > col.MaxWidth {
			widths[i] = col.MaxWidth
		}
	}
	return widths
}

func totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w
	}
	if len(widths) > 1 {
		total += 2 * (len(widths) - 1)
	}
	return total
}

// padCell pads or truncates content to width.
func padCell(content string, width int, align lipgloss.Position) string {
	if len(content) > width {
		if width > 3 {
			return content[:width-3] + "..."
		}
		return content[:width]
	}
	padding := width - len(content)
	switch align {
	case lipgloss.Right:
		return strings.Repeat(" ", padding) + content
	case lipgloss.Center:
		left := padding / 2
		return strings.Repeat(" ", left) + content + strings.Repeat(" ", padding-left)
	default:
		return content + strings.Repeat(" ", padding)
	}
}
