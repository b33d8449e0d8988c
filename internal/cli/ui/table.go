package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

const columnGap = "  "

// Table lays out mapping metadata and query rows in aligned columns
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	opts    TableOptions
}

// TableOptions configures table behavior
type TableOptions struct {
	NoColor bool
	// RowCount prints a "(N rows)" line under the table
	RowCount bool
}

// NewTable creates a table with the given column headers
func NewTable(w io.Writer, headers []string, opts *TableOptions) *Table {
	t := &Table{writer: w, headers: headers}
	if opts != nil {
		t.opts = *opts
	}
	return t
}

// AddRow appends a row. Missing trailing cells render empty and cells beyond
// the last header are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows added so far
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the header, a rule under each column and the rows
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := t.widths()
	last := len(widths) - 1

	heading := style(t.opts.NoColor, color.Bold, color.FgCyan)
	for i, h := range t.headers {
		cell := h
		if i < last {
			cell = padRight(h, widths[i]) + columnGap
		}
		heading.Fprint(t.writer, cell)
	}
	fmt.Fprintln(t.writer)

	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w)
	}
	style(t.opts.NoColor, color.FgHiBlack).Fprintln(t.writer, strings.Join(rules, columnGap))

	for _, row := range t.rows {
		line := make([]string, len(row))
		for i, cell := range row {
			line[i] = padRight(cell, widths[i])
		}
		fmt.Fprintln(t.writer, strings.TrimRight(strings.Join(line, columnGap), " "))
	}

	if t.opts.RowCount {
		style(t.opts.NoColor, color.FgHiBlack).Fprintf(t.writer, "(%d rows)\n", len(t.rows))
	}
}

func (t *Table) widths() []int {
	widths := make([]int, len(t.headers))
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

// padRight pads s with spaces to width runes
func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func style(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// KeyValueTable renders labelled properties, such as an entity's table and
// primary key, with the labels aligned
type KeyValueTable struct {
	writer  io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValueTable creates an empty key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{writer: w, noColor: noColor}
}

// AddRow adds a key-value pair
func (t *KeyValueTable) AddRow(key, value string) {
	t.keys = append(t.keys, key)
	t.values = append(t.values, value)
}

// Render writes one "key: value" line per pair
func (t *KeyValueTable) Render() {
	width := 0
	for _, k := range t.keys {
		if n := utf8.RuneCountInString(k) + 1; n > width {
			width = n
		}
	}

	label := style(t.noColor, color.FgCyan)
	for i, k := range t.keys {
		label.Fprint(t.writer, padRight(k+":", width))
		fmt.Fprintf(t.writer, " %s\n", t.values[i])
	}
}

// Header writes a bold title underlined to its own width
func Header(w io.Writer, title string, noColor bool) {
	style(noColor, color.Bold, color.FgCyan).Fprintln(w, title)
	style(noColor, color.FgHiBlack).Fprintln(w, strings.Repeat("─", utf8.RuneCountInString(title)))
}
