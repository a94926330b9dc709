package sheet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

// Grid is the decoded first sheet: rows of cleaned cell strings. Rows may be
// ragged; use Cell for bounds-safe access.
type Grid struct {
	SheetName string
	Rows      [][]string
	// numbers holds the stored value of numeric cells, keyed by position.
	// Rows keeps their formatted text.
	numbers map[[2]int]float64
}

// Load opens a workbook from memory and decodes its first sheet.
func Load(data []byte) (Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Grid{}, fmt.Errorf("%w: %v", catalog.ErrMalformedContainer, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Grid{}, fmt.Errorf("%w: workbook has no sheets", catalog.ErrMalformedContainer)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Grid{}, fmt.Errorf("%w: read rows: %v", catalog.ErrMalformedContainer, err)
	}
	raw, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return Grid{}, fmt.Errorf("%w: read raw rows: %v", catalog.ErrMalformedContainer, err)
	}

	g := Grid{SheetName: sheets[0], Rows: rows}
	for i := range rows {
		for j := range rows[i] {
			rows[i][j] = CleanCell(rows[i][j])
			if i < len(raw) && j < len(raw[i]) {
				g.recordNumber(f, i, j, raw[i][j])
			}
		}
	}
	return g, nil
}

// recordNumber keeps the stored value of a numeric cell. A formatted "2.125"
// reads as thousands to a price parser; the stored 2.125 does not.
func (g *Grid) recordNumber(f *excelize.File, row, col int, raw string) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return
	}
	name, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return
	}
	t, err := f.GetCellType(g.SheetName, name)
	if err != nil || (t != excelize.CellTypeNumber && t != excelize.CellTypeUnset) {
		return
	}
	if g.numbers == nil {
		g.numbers = make(map[[2]int]float64)
	}
	g.numbers[[2]int{row, col}] = v
}

// Number returns the stored value of a numeric cell. Text cells, blanks and
// grids built by hand report false.
func (g Grid) Number(row, col int) (float64, bool) {
	v, ok := g.numbers[[2]int{row, col}]
	return v, ok
}

func (g Grid) Len() int { return len(g.Rows) }

// Width is the widest row's column count.
func (g Grid) Width() int {
	w := 0
	for _, r := range g.Rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

func (g Grid) Row(i int) []string {
	if i < 0 || i >= len(g.Rows) {
		return nil
	}
	return g.Rows[i]
}

func (g Grid) Cell(row, col int) string {
	r := g.Row(row)
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// RowEmpty reports whether every cell of row i is blank.
func (g Grid) RowEmpty(i int) bool {
	for _, c := range g.Row(i) {
		if c != "" {
			return false
		}
	}
	return true
}

// CleanCell collapses whitespace and reduces HTML fragments (common in
// catalogs exported from web storefronts) to their text.
func CleanCell(s string) string {
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		s = stripMarkup(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

func stripMarkup(s string) string {
	node, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "script", "style":
				return
			case "br", "p", "div", "li":
				sb.WriteString(" ")
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return sb.String()
}

// Sample renders rows [from, to) as a pipe table whose first column is the
// absolute row index, so a model can answer with indices into the grid.
func (g Grid) Sample(from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > len(g.Rows) {
		to = len(g.Rows)
	}
	if from >= to {
		return ""
	}

	maxCols := 0
	for i := from; i < to; i++ {
		if len(g.Rows[i]) > maxCols {
			maxCols = len(g.Rows[i])
		}
	}
	if maxCols == 0 {
		return ""
	}

	var sb strings.Builder
	header := make([]string, maxCols+1)
	header[0] = "row"
	for c := 0; c < maxCols; c++ {
		header[c+1] = "c" + strconv.Itoa(c)
	}
	sb.WriteString("| " + strings.Join(header, " | ") + " |\n")
	sep := make([]string, maxCols+1)
	for i := range sep {
		sep[i] = "---"
	}
	sb.WriteString("| " + strings.Join(sep, " | ") + " |\n")

	cells := make([]string, maxCols+1)
	for i := from; i < to; i++ {
		cells[0] = strconv.Itoa(i)
		for c := 0; c < maxCols; c++ {
			cells[c+1] = strings.ReplaceAll(g.Cell(i, c), "|", "\\|")
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return sb.String()
}

// FindRows returns, in order, the indices of rows at or after start having a
// cell that contains one of markers. Comparison uses Fold.
func (g Grid) FindRows(start int, markers []string) []int {
	if len(markers) == 0 {
		return nil
	}
	folded := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = Fold(m); m != "" {
			folded = append(folded, m)
		}
	}

	var out []int
	for i := start; i < len(g.Rows); i++ {
	cells:
		for _, c := range g.Rows[i] {
			if c == "" {
				continue
			}
			fc := Fold(c)
			for _, m := range folded {
				if strings.Contains(fc, m) {
					out = append(out, i)
					break cells
				}
			}
		}
	}
	return out
}
