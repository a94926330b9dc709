// Package rows turns data rows into product fragments, carrying the last
// seen model family from one row to the next.
package rows

import (
	"context"
	"errors"
	"strings"

	"github.com/Kurai777/Alda-oficial-sub004/internal/layout"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
)

var (
	// ErrServiceUnavailable means the extraction service cannot be reached at
	// all; the run switches to the heuristic for every remaining row.
	ErrServiceUnavailable = errors.New("row extraction service unavailable")
	// ErrMalformedResponse means the service answered for this row with
	// something unusable; only that row is dropped.
	ErrMalformedResponse = errors.New("malformed row extraction response")
)

type PriceCell struct {
	Header string `json:"header"`
	Value  string `json:"value"`
	// Number is the cell's stored value when the sheet typed it numeric.
	Number *float64 `json:"number,omitempty"`
}

// Amount is what a price parser should read: the stored number when there
// is one, else the text.
func (c PriceCell) Amount() any {
	if c.Number != nil {
		return *c.Number
	}
	return c.Value
}

// Context is everything known about one row when it is extracted.
type Context struct {
	RowIndex      int         `json:"rowIndex"`
	Code          string      `json:"codeCell,omitempty"`
	Model         string      `json:"modelCell"`
	Description   string      `json:"descriptionCell"`
	Dimensions    string      `json:"dimensionsCell"`
	Category      string      `json:"categoryCell,omitempty"`
	PriceCells    []PriceCell `json:"priceCells"`
	AllCells      []string    `json:"allCells"`
	LastModelBase string      `json:"lastModelBase"`
}

// PriceVariation carries a raw price as the service returned it: a string
// or a number.
type PriceVariation struct {
	ClassName string `json:"className"`
	Price     any    `json:"price"`
}

type Extraction struct {
	Name                 string           `json:"name"`
	ModelBase            string           `json:"modelBase"`
	VariationDescription string           `json:"variationDescription,omitempty"`
	Dimensions           string           `json:"dimensions,omitempty"`
	Code                 string           `json:"code,omitempty"`
	Category             string           `json:"category,omitempty"`
	PriceVariations      []PriceVariation `json:"priceVariations"`
}

// Service extracts one row. A nil Extraction with a nil error means the row
// is not a product.
type Service interface {
	ExtractRow(ctx context.Context, rc Context) (*Extraction, error)
}

// State is carried from one row to the next.
type State struct {
	LastModelBase string
}

// ContextFor builds the row context from a grid and a column mapping.
func ContextFor(g sheet.Grid, m layout.Mapping, row int, st State) Context {
	rc := Context{
		RowIndex:      row,
		Code:          g.Cell(row, m.Code),
		Model:         g.Cell(row, m.Model),
		Description:   g.Cell(row, m.Description),
		Dimensions:    g.Cell(row, m.Dimensions),
		Category:      g.Cell(row, m.Category),
		LastModelBase: st.LastModelBase,
	}
	for _, p := range m.Prices {
		pc := PriceCell{Header: p.Header, Value: g.Cell(row, p.Index)}
		if v, ok := g.Number(row, p.Index); ok {
			pc.Number = &v
		}
		rc.PriceCells = append(rc.PriceCells, pc)
	}
	rc.AllCells = append(rc.AllCells, g.Row(row)...)
	return rc
}

// stored swaps a price copied verbatim from a numeric cell for that cell's
// stored value.
func (rc Context) stored(p any) any {
	s, ok := p.(string)
	if !ok {
		return p
	}
	s = strings.TrimSpace(s)
	for _, c := range rc.PriceCells {
		if c.Number != nil && c.Value == s {
			return *c.Number
		}
	}
	return p
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
