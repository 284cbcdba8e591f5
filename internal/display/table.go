package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Horizontal string
	Vertical   string
	Cross      string
}

var (
	ASCIIBorderStyle   = BorderStyle{Horizontal: "-", Vertical: "|", Cross: "+"}
	RoundedBorderStyle = BorderStyle{Horizontal: "─", Vertical: "│", Cross: "┼"}
)

// Table renders rows under a header, shrinking the widest columns when the
// terminal is too narrow.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	padding    int
	maxWidth   int
	colors     *Colors
}

// NewTable creates a table sized to the terminal attached to stdout
func NewTable(colors *Colors, headers ...string) *Table {
	if colors == nil {
		colors = NoColors()
	}
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		padding:    1,
		maxWidth:   terminalWidth(),
		colors:     colors,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment for a column
func (t *Table) SetAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// SetBorder sets the border characters
func (t *Table) SetBorder(border BorderStyle) {
	t.border = border
}

// SetMaxWidth overrides the detected terminal width. Zero disables shrinking.
func (t *Table) SetMaxWidth(width int) {
	t.maxWidth = width
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fit(t.columnWidths())

	var b strings.Builder
	b.WriteString(t.renderRow(t.headers, widths, true))
	b.WriteString(t.renderRule(widths))
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	return b.String()
}

// RenderTo renders the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	widths := make([]int, cols)
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	return widths
}

// fit takes one column from the widest column at a time until the table
// fits maxWidth or every column is at the minimum.
func (t *Table) fit(widths []int) []int {
	if t.maxWidth <= 0 {
		return widths
	}
	const minWidth = 4

	for t.totalWidth(widths) > t.maxWidth {
		widest := -1
		for i, w := range widths {
			if w > minWidth && (widest < 0 || w > widths[widest]) {
				widest = i
			}
		}
		if widest < 0 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := len(widths) + 1
	for _, w := range widths {
		total += w + t.padding*2
	}
	return total
}

func (t *Table) renderRule(widths []int) string {
	var b strings.Builder
	b.WriteString(t.border.Cross)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+t.padding*2))
		b.WriteString(t.border.Cross)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, width := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(t.formatCell(cell, width, t.alignments[i], header))
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) formatCell(content string, width int, alignment Alignment, header bool) string {
	if utf8.RuneCountInString(content) > width {
		runes := []rune(content)
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}

	gap := strings.Repeat(" ", width-utf8.RuneCountInString(content))
	// color after measuring so escape codes do not count toward the width
	if header {
		content = t.colors.Sprint(ColorPrimary, content)
	}

	pad := strings.Repeat(" ", t.padding)
	if alignment == AlignRight {
		return pad + gap + content + pad
	}
	return pad + content + gap + pad
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
