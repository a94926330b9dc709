// Package structure refines the heuristic column mapping with one
// structured-extraction call per catalog.
package structure

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/layout"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
)

// ColumnRole assigns a semantic role to one zero-indexed column.
type ColumnRole struct {
	Index  int    `json:"index"`
	Role   string `json:"role"`
	Header string `json:"header,omitempty"`
}

type Request struct {
	SampleText       string `json:"sampleText"`
	LegendSampleText string `json:"legendSampleText,omitempty"`
}

// Response mirrors the service contract. Every field is optional; a missing
// field falls back to the heuristic mapping.
type Response struct {
	HeaderRowIndex    *int                      `json:"headerRowIndex,omitempty"`
	ColumnRoles       []ColumnRole              `json:"columnRoles,omitempty"`
	ClassDefinitions  []catalog.ClassDefinition `json:"classDefinitions,omitempty"`
	DataStartRowIndex *int                      `json:"dataStartRowIndex,omitempty"`
	Error             string                    `json:"error,omitempty"`
}

type Service interface {
	Analyze(ctx context.Context, req Request) (Response, error)
}

// Result is the outcome of the structural pass.
type Result struct {
	Mapping  layout.Mapping
	Classes  []catalog.ClassDefinition
	Warnings []catalog.Warning
}

type Options struct {
	SampleRows    int
	LegendRows    int
	LegendMarkers []string
}

type Analyzer struct {
	svc  Service
	det  *layout.Detector
	opts Options
	log  *zap.Logger
}

// NewAnalyzer builds an analyzer. A nil svc yields a purely heuristic pass.
func NewAnalyzer(svc Service, det *layout.Detector, opts Options, log *zap.Logger) *Analyzer {
	if opts.SampleRows <= 0 {
		opts.SampleRows = 30
	}
	if opts.LegendRows <= 0 {
		opts.LegendRows = 12
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{svc: svc, det: det, opts: opts, log: log.Named("structure")}
}

// Analyze never fails: any service problem degrades to the detector's
// mapping and is reported as a warning.
func (a *Analyzer) Analyze(ctx context.Context, g sheet.Grid) Result {
	heuristic := a.det.Detect(g)
	var res Result

	if a.svc == nil {
		return a.finish(res, heuristic)
	}

	resp, err := a.svc.Analyze(ctx, a.buildRequest(g))
	if err == nil && resp.Error != "" {
		err = fmt.Errorf("service reported: %s", resp.Error)
	}
	if err != nil {
		a.log.Warn("structural analysis failed, using heuristic mapping", zap.Error(err))
		res.Warnings = append(res.Warnings, catalog.Warning{
			Kind: catalog.WarnStructureFallback, Row: -1, Detail: err.Error(),
		})
		return a.finish(res, heuristic)
	}

	m := a.merge(g, heuristic, resp)
	for _, cd := range resp.ClassDefinitions {
		if cd.ClassName != "" {
			res.Classes = append(res.Classes, cd)
		}
	}
	a.log.Debug("structural analysis applied",
		zap.String("source", m.Source),
		zap.Int("headerRow", m.HeaderRow),
		zap.Int("priceColumns", len(m.Prices)),
		zap.Int("classes", len(res.Classes)))
	return a.finish(res, m)
}

func (a *Analyzer) finish(res Result, m layout.Mapping) Result {
	if m.LowConfidence {
		res.Warnings = append(res.Warnings, catalog.Warning{
			Kind: catalog.WarnHeaderNotDetected, Row: -1,
			Detail: "no header row found; first column read as model, others as price classes",
		})
	}
	res.Mapping = m
	return res
}

func (a *Analyzer) buildRequest(g sheet.Grid) Request {
	req := Request{SampleText: g.Sample(0, a.opts.SampleRows)}
	for _, r := range g.FindRows(0, a.opts.LegendMarkers) {
		if r+1 < a.opts.SampleRows {
			continue
		}
		from := r - 1
		if from < a.opts.SampleRows {
			from = a.opts.SampleRows
		}
		req.LegendSampleText = g.Sample(from, r+a.opts.LegendRows)
		break
	}
	return req
}

// merge applies the service answer field by field over the heuristic.
func (a *Analyzer) merge(g sheet.Grid, heuristic layout.Mapping, resp Response) layout.Mapping {
	header := -1
	if resp.HeaderRowIndex != nil && *resp.HeaderRowIndex >= 0 && *resp.HeaderRowIndex < g.Len() {
		header = *resp.HeaderRowIndex
	}

	named := header
	if named < 0 {
		named = heuristic.HeaderRow
	}

	m, ok := a.fromRoles(g, named, resp.ColumnRoles)
	switch {
	case ok:
		m.HeaderRow = named
		m.DataStartRow = named + 1
		m.Source = "service"
	case header >= 0:
		hm, ok := a.det.MapHeaderRow(g, header)
		if !ok {
			return heuristic
		}
		m = hm
		m.Source = "service"
	default:
		m = heuristic
	}

	if resp.DataStartRowIndex != nil {
		ds := *resp.DataStartRowIndex
		if ds > m.HeaderRow && ds <= g.Len() {
			m.DataStartRow = ds
		}
	}
	return m
}

func (a *Analyzer) fromRoles(g sheet.Grid, header int, roles []ColumnRole) (layout.Mapping, bool) {
	if len(roles) == 0 {
		return layout.Mapping{}, false
	}
	m := layout.Mapping{HeaderRow: -1, Code: -1, Model: -1, Description: -1, Dimensions: -1, Category: -1}
	width := g.Width()
	for _, cr := range roles {
		if cr.Index < 0 || cr.Index >= width {
			continue
		}
		role := layout.Role(cr.Role)
		name := cr.Header
		if header >= 0 {
			if h := g.Cell(header, cr.Index); h != "" {
				name = h
			}
		}
		if role == layout.RolePrice && name == "" {
			name = "CLASSE " + strconv.Itoa(len(m.Prices)+1)
		}
		m.Assign(role, cr.Index, name)
	}
	if !m.Usable() {
		return layout.Mapping{}, false
	}
	return m, true
}
