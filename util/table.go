package util

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Table draws bordered text tables:
//
//	+------+-------+
//	| name | value |
//	+------+-------+
//	| a    | 0x1   |
//	+------+-------+
type Table struct {
	Header []string
	Align  []Align
	rows   [][]string
}

func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

func (t *Table) AddRow(cells ...interface{}) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = fmt.Sprint(c)
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Rows() [][]string {
	return t.rows
}

func (t *Table) ncols() int {
	n := len(t.Header)
	for _, r := range t.rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

func visibleLen(s string) int {
	return utf8.RuneCountInString(StripANSI(s))
}

func (t *Table) cell(s string, width int, col int) string {
	pad := width - visibleLen(s)
	a := AlignLeft
	if col < len(t.Align) {
		a = t.Align[col]
	}
	switch a {
	case AlignCenter:
		left := pad / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
	case AlignRight:
		return strings.Repeat(" ", pad) + s
	default:
		return s + strings.Repeat(" ", pad)
	}
}

func (t *Table) Draw() string {
	n := t.ncols()
	if n == 0 {
		return ""
	}
	widths := make([]int, n)
	measure := func(r []string) {
		for i, c := range r {
			if l := visibleLen(c); l > widths[i] {
				widths[i] = l
			}
		}
	}
	measure(t.Header)
	for _, r := range t.rows {
		measure(r)
	}

	var sb strings.Builder
	line := func() {
		sb.WriteString("+")
		for _, w := range widths {
			sb.WriteString(strings.Repeat("-", w+2))
			sb.WriteString("+")
		}
		sb.WriteString("\n")
	}
	row := func(r []string) {
		sb.WriteString("|")
		for i := 0; i < n; i++ {
			c := ""
			if i < len(r) {
				c = r[i]
			}
			sb.WriteString(" " + t.cell(c, widths[i], i) + " |")
		}
		sb.WriteString("\n")
	}

	line()
	if len(t.Header) > 0 {
		row(t.Header)
		line()
	}
	for _, r := range t.rows {
		row(r)
	}
	if len(t.rows) > 0 {
		line()
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RegTable renders register name/value pairs with hex values.
func RegTable(regs map[string]uint32, header bool) string {
	t := &Table{}
	if header {
		t.Header = []string{"name", "value"}
	}
	names := make([]string, 0, len(regs))
	for k := range regs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		t.AddRow(k, fmt.Sprintf("0x%x", regs[k]))
	}
	return t.Draw()
}

// KV is an ordered name/value pair for tables that must keep insertion order.
type KV struct {
	Name  string
	Value interface{}
}

func DictTable(kvs []KV, header bool) string {
	t := &Table{}
	if header {
		t.Header = []string{"name", "value"}
	}
	for _, kv := range kvs {
		t.AddRow(kv.Name, kv.Value)
	}
	return t.Draw()
}
