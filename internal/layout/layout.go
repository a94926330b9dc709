// Package layout infers which spreadsheet column carries which semantic role.
package layout

import (
	"strconv"
	"strings"

	"github.com/Kurai777/Alda-oficial-sub004/internal/config"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
)

type Role string

const (
	RoleCode        Role = "code"
	RoleModel       Role = "model"
	RoleDescription Role = "description"
	RoleDimensions  Role = "dimensions"
	RoleCategory    Role = "category"
	RolePrice       Role = "price"
)

// rolePriority decides which role wins when a header matches several
// vocabularies ("DESCRICAO DO PRODUTO" is a product name, not a description).
var rolePriority = []Role{RolePrice, RoleCode, RoleDimensions, RoleModel, RoleDescription, RoleCategory}

// PriceColumn is one price-class column; Header is the class name.
type PriceColumn struct {
	Index  int    `json:"index"`
	Header string `json:"header"`
}

// Mapping records column positions per role. Absent roles are -1.
type Mapping struct {
	HeaderRow     int           `json:"headerRow"`
	DataStartRow  int           `json:"dataStartRow"`
	Code          int           `json:"code"`
	Model         int           `json:"model"`
	Description   int           `json:"description"`
	Dimensions    int           `json:"dimensions"`
	Category      int           `json:"category"`
	Prices        []PriceColumn `json:"prices"`
	LowConfidence bool          `json:"lowConfidence"`
	Source        string        `json:"source"`
}

func emptyMapping() Mapping {
	return Mapping{HeaderRow: -1, Code: -1, Model: -1, Description: -1, Dimensions: -1, Category: -1}
}

// Column returns the index mapped to a single-column role.
func (m Mapping) Column(r Role) int {
	switch r {
	case RoleCode:
		return m.Code
	case RoleModel:
		return m.Model
	case RoleDescription:
		return m.Description
	case RoleDimensions:
		return m.Dimensions
	case RoleCategory:
		return m.Category
	}
	return -1
}

// Assign sets a role's column. Price columns accumulate; other roles keep
// the first assignment.
func (m *Mapping) Assign(r Role, col int, header string) bool {
	switch r {
	case RolePrice:
		for _, p := range m.Prices {
			if p.Index == col {
				return false
			}
		}
		m.Prices = append(m.Prices, PriceColumn{Index: col, Header: header})
		return true
	case RoleCode:
		return setOnce(&m.Code, col)
	case RoleModel:
		return setOnce(&m.Model, col)
	case RoleDescription:
		return setOnce(&m.Description, col)
	case RoleDimensions:
		return setOnce(&m.Dimensions, col)
	case RoleCategory:
		return setOnce(&m.Category, col)
	}
	return false
}

func setOnce(dst *int, col int) bool {
	if *dst >= 0 {
		return false
	}
	*dst = col
	return true
}

// Usable reports whether the mapping can drive row extraction at all.
func (m Mapping) Usable() bool {
	return len(m.Prices) > 0 || m.Model >= 0 || m.Code >= 0 || m.Description >= 0
}

// Detector is the heuristic column mapper. It is pure: the same grid always
// yields the same mapping.
type Detector struct {
	h     config.Heuristics
	vocab map[Role][]string
}

func NewDetector(h config.Heuristics) *Detector {
	d := &Detector{h: h, vocab: map[Role][]string{}}
	for role, words := range h.Vocabulary {
		r := Role(strings.ToLower(role))
		for _, w := range words {
			if w = sheet.Fold(w); w != "" {
				d.vocab[r] = append(d.vocab[r], w)
			}
		}
	}
	if d.h.HeaderScanRows <= 0 {
		d.h.HeaderScanRows = 25
	}
	if d.h.MinHeaderMatches <= 0 {
		d.h.MinHeaderMatches = 2
	}
	return d
}

// Detect scans a bounded prefix of the grid for the best header row. When
// none qualifies it returns the default mapping flagged low-confidence.
func (d *Detector) Detect(g sheet.Grid) Mapping {
	best := emptyMapping()
	bestScore := 0

	limit := d.h.HeaderScanRows
	if limit > g.Len() {
		limit = g.Len()
	}
	for i := 0; i < limit; i++ {
		if !d.looksLikeHeader(g.Row(i)) {
			continue
		}
		m, matched := d.mapRow(g.Row(i))
		if matched < d.h.MinHeaderMatches || !m.Usable() {
			continue
		}
		if matched > bestScore {
			m.HeaderRow = i
			m.DataStartRow = i + 1
			best, bestScore = m, matched
		}
	}

	if bestScore == 0 {
		return DefaultMapping(g)
	}
	best.Source = "heuristic"
	return best
}

// MapHeaderRow maps the roles of a specific row, used when the structural
// pass supplies a header index but no roles.
func (d *Detector) MapHeaderRow(g sheet.Grid, row int) (Mapping, bool) {
	m, matched := d.mapRow(g.Row(row))
	if matched == 0 || !m.Usable() {
		return Mapping{}, false
	}
	m.HeaderRow = row
	m.DataStartRow = row + 1
	m.Source = "heuristic"
	return m, true
}

// DefaultMapping treats the first column as the model and every other
// column as a price class.
func DefaultMapping(g sheet.Grid) Mapping {
	m := emptyMapping()
	m.Model = 0
	for c := 1; c < g.Width(); c++ {
		m.Prices = append(m.Prices, PriceColumn{Index: c, Header: "COLUNA " + strconv.Itoa(c+1)})
	}
	m.DataStartRow = 0
	m.LowConfidence = true
	m.Source = "default"
	return m
}

func (d *Detector) looksLikeHeader(row []string) bool {
	nonEmpty, textual := 0, 0
	for _, c := range row {
		if c == "" {
			continue
		}
		nonEmpty++
		if !isNumeric(c) && (d.h.MaxHeaderCellLen <= 0 || len([]rune(c)) <= d.h.MaxHeaderCellLen) {
			textual++
		}
	}
	if nonEmpty < 2 {
		return false
	}
	return float64(textual)/float64(nonEmpty) >= d.h.MinNonNumericRatio
}

func (d *Detector) mapRow(row []string) (Mapping, int) {
	m := emptyMapping()
	matched := 0
	for col, cell := range row {
		if cell == "" || isNumeric(cell) {
			continue
		}
		if r, ok := d.Classify(cell); ok && m.Assign(r, col, cell) {
			matched++
		}
	}
	return m, matched
}

// Classify returns the role a header cell belongs to, if any.
func (d *Detector) Classify(header string) (Role, bool) {
	f := sheet.Fold(header)
	if f == "" {
		return "", false
	}
	tokens := strings.FieldsFunc(f, func(r rune) bool {
		return r == ' ' || r == '/' || r == '-' || r == '_' || r == '.' || r == ':' || r == '(' || r == ')'
	})
	for _, r := range rolePriority {
		for _, w := range d.vocab[r] {
			if matchesWord(f, tokens, w) {
				return r, true
			}
		}
	}
	return "", false
}

func matchesWord(folded string, tokens []string, word string) bool {
	if folded == word {
		return true
	}
	if strings.Contains(word, " ") || strings.ContainsAny(word, "$") {
		return strings.Contains(folded, word)
	}
	for _, t := range tokens {
		if t == word {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == ',' || r == '-' || r == ' ' || r == '%' || r == '$' || r == 'R':
		default:
			return false
		}
	}
	return digits > 0
}
