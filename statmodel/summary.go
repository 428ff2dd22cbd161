package statmodel

import (
	"bytes"
	"fmt"
	"strings"
)

// Fmter formats a column of values for display, given the column's header.
type Fmter func(interface{}, string) []string

// StringFmter formats a column of strings, left-justified.
func StringFmter(x interface{}, h string) []string {

	y := x.([]string)
	w := len(h)
	for _, v := range y {
		if len(v) > w {
			w = len(v)
		}
	}

	z := make([]string, len(y))
	c := fmt.Sprintf("%%-%ds", w)
	for i := range y {
		z[i] = fmt.Sprintf(c, y[i])
	}

	return z
}

// NumberFmter formats a column of float64 values.
func NumberFmter(x interface{}, h string) []string {

	y := x.([]float64)
	z := make([]string, len(y))
	for i := range y {
		z[i] = fmt.Sprintf("%10.4f", y[i])
	}

	return z
}

// SummaryTable renders the summary of a fitted model as fixed-width text.
type SummaryTable struct {

	// Title of the table
	Title string

	// Column names
	ColNames []string

	// Formatters for the column values, one per column
	ColFmt []Fmter

	// Cols[j] is the j'th column; its concrete type is a slice of
	// numbers or strings, matched to ColFmt[j].
	Cols []interface{}

	// Lines shown between the title and the column headers, typically
	// model-level facts such as the family or the number of observations.
	Top []string

	// Messages displayed below the table
	Msg []string
}

// String returns the table as a string.
func (s *SummaryTable) String() string {

	// Format all cells up front so that column widths are known.
	tab := make([][]string, len(s.Cols))
	wx := make([]int, len(s.Cols))
	for j, c := range s.Cols {
		tab[j] = s.ColFmt[j](c, s.ColNames[j])
		wx[j] = len(s.ColNames[j])
		if len(tab[j]) > 0 && len(tab[j][0]) > wx[j] {
			wx[j] = len(tab[j][0])
		}
	}

	tw := 0
	for _, w := range wx {
		tw += w
	}
	if tw < len(s.Title) {
		tw = len(s.Title)
	}
	for _, x := range s.Top {
		if tw < len(x) {
			tw = len(x)
		}
	}

	line := strings.Repeat("-", tw) + "\n"

	var buf bytes.Buffer

	k := (tw - len(s.Title)) / 2
	if k < 0 {
		k = 0
	}
	buf.WriteString(strings.Repeat(" ", k))
	buf.WriteString(s.Title + "\n")
	buf.WriteString(strings.Repeat("=", tw) + "\n")

	for _, x := range s.Top {
		buf.WriteString(x + "\n")
	}
	buf.WriteString(line)

	for j, c := range s.ColNames {
		f := fmt.Sprintf("%%%ds", wx[j])
		buf.WriteString(fmt.Sprintf(f, c))
	}
	buf.WriteString("\n")
	buf.WriteString(line)

	nrow := 0
	if len(tab) > 0 {
		nrow = len(tab[0])
	}
	for i := 0; i < nrow; i++ {
		for j := range tab {
			f := fmt.Sprintf("%%%ds", wx[j])
			buf.WriteString(fmt.Sprintf(f, tab[j][i]))
		}
		buf.WriteString("\n")
	}
	buf.WriteString(line)

	for _, msg := range s.Msg {
		buf.WriteString(msg + "\n")
	}

	return buf.String()
}
