package rows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/config"
	"github.com/Kurai777/Alda-oficial-sub004/internal/layout"
	"github.com/Kurai777/Alda-oficial-sub004/internal/logger"
	"github.com/Kurai777/Alda-oficial-sub004/internal/price"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
)

type OutcomeKind int

const (
	Extracted OutcomeKind = iota
	SkippedBlank
	SkippedNoSignal
	NotProduct
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Extracted:
		return "extracted"
	case SkippedBlank:
		return "skipped_blank"
	case SkippedNoSignal:
		return "skipped_no_signal"
	case NotProduct:
		return "not_a_product"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of one Step. Record is set only when Kind is
// Extracted; Err only when Kind is Failed.
type Outcome struct {
	Kind   OutcomeKind
	Record *catalog.ProductRecord
	Err    error
}

type Extractor struct {
	svc      Service
	h        config.Heuristics
	interval time.Duration
	log      *zap.Logger
}

// NewExtractor builds an extractor. A nil svc runs the heuristic only; the
// interval paces consecutive service calls and is not applied to the
// heuristic.
func NewExtractor(svc Service, h config.Heuristics, interval time.Duration, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	if h.MinMeaningfulPrices <= 0 {
		h.MinMeaningfulPrices = 1
	}
	if h.MinPriceMinorUnits <= 0 {
		h.MinPriceMinorUnits = 1
	}
	return &Extractor{svc: svc, h: h, interval: interval, log: log.Named("rows")}
}

// Step extracts one row. It is a pure transition over State apart from the
// service call itself: the returned State is what the next row sees.
func (e *Extractor) Step(ctx context.Context, svc Service, st State, rc Context) (Outcome, State) {
	rc.LastModelBase = st.LastModelBase

	if blank(rc.Model) && blank(rc.Description) && pricesBlank(rc.PriceCells) {
		return Outcome{Kind: SkippedBlank}, State{}
	}
	if blank(rc.Model) && blank(rc.Description) && e.meaningfulPrices(rc.PriceCells) < e.h.MinMeaningfulPrices {
		return Outcome{Kind: SkippedNoSignal}, State{}
	}

	ext, err := svc.ExtractRow(ctx, rc)
	if err != nil {
		return Outcome{Kind: Failed, Err: err}, st
	}
	if ext == nil {
		return Outcome{Kind: NotProduct}, st
	}

	rec := e.record(rc, st, ext)
	return Outcome{Kind: Extracted, Record: &rec}, State{LastModelBase: rec.ModelBase}
}

func (e *Extractor) record(rc Context, st State, ext *Extraction) catalog.ProductRecord {
	modelBase := firstNonBlank(ext.ModelBase, rc.Model, st.LastModelBase)
	rec := catalog.ProductRecord{
		RowIndex:             rc.RowIndex,
		Code:                 firstNonBlank(ext.Code, rc.Code),
		Name:                 strings.TrimSpace(ext.Name),
		ModelBase:            modelBase,
		VariationDescription: strings.TrimSpace(ext.VariationDescription),
		Dimensions:           firstNonBlank(ext.Dimensions, rc.Dimensions),
		Description:          strings.TrimSpace(rc.Description),
		Category:             firstNonBlank(ext.Category, rc.Category),
	}
	for i, pv := range ext.PriceVariations {
		v, err := price.Normalize(rc.stored(pv.Price))
		if err != nil || v < e.h.MinPriceMinorUnits {
			continue
		}
		class := strings.TrimSpace(pv.ClassName)
		if class == "" {
			class = fmt.Sprintf("PRECO %d", i+1)
		}
		rec.Prices = append(rec.Prices, catalog.PriceEntry{ClassName: class, ValueMinor: v})
	}
	return rec
}

func (e *Extractor) meaningfulPrices(cells []PriceCell) int {
	n := 0
	for _, c := range cells {
		if v, err := price.Normalize(c.Amount()); err == nil && v >= e.h.MinPriceMinorUnits {
			n++
		}
	}
	return n
}

// Result of a full pass over a grid.
type Result struct {
	Records  []catalog.ProductRecord
	Warnings []catalog.Warning
	// Partial is set when the run was cancelled before the last row.
	Partial bool
	// Degraded is set when the service became unavailable and the heuristic
	// took over.
	Degraded bool
	State    State
}

// Run extracts every data row in source order. Cancelling ctx stops new
// service calls; a call already in flight completes and its row is kept.
func (e *Extractor) Run(ctx context.Context, g sheet.Grid, m layout.Mapping) Result {
	var (
		res      Result
		st       State
		svc      = e.svc
		fallback Service = Heuristic{}
		limiter  *rate.Limiter
	)
	if svc == nil {
		svc = fallback
	} else if e.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(e.interval), 1)
	}

	for row := m.DataStartRow; row < g.Len(); row++ {
		if ctx.Err() != nil {
			res.Partial = true
			break
		}
		if row == m.HeaderRow {
			continue
		}

		rc := ContextFor(g, m, row, st)
		if m.HeaderRow >= 0 && sameCells(g.Row(row), g.Row(m.HeaderRow)) {
			st = State{}
			res.Warnings = append(res.Warnings, e.skipWarning(row, rc, "repeated header row"))
			continue
		}
		remote := svc != fallback
		if remote && limiter != nil && !e.wouldSkip(rc) {
			if err := limiter.Wait(ctx); err != nil {
				res.Partial = true
				break
			}
		}

		out, next := e.Step(context.WithoutCancel(ctx), svc, st, rc)
		if out.Kind == Failed && remote && errors.Is(out.Err, ErrServiceUnavailable) {
			e.log.Warn("extraction service unavailable, continuing with heuristic",
				zap.Int("row", row), zap.Error(out.Err))
			res.Warnings = append(res.Warnings, catalog.Warning{
				Kind: catalog.WarnServiceUnavailable, Row: row, Detail: out.Err.Error(),
			})
			res.Degraded = true
			svc = fallback
			out, next = e.Step(ctx, svc, st, rc)
		}
		st = next

		switch out.Kind {
		case Extracted:
			res.Records = append(res.Records, *out.Record)
		case SkippedBlank:
			if !g.RowEmpty(row) {
				res.Warnings = append(res.Warnings, e.skipWarning(row, rc, "no model, description or price"))
			}
		case SkippedNoSignal:
			res.Warnings = append(res.Warnings, e.skipWarning(row, rc, "no model, description or meaningful price"))
		case NotProduct:
			res.Warnings = append(res.Warnings, e.skipWarning(row, rc, "not a product"))
		case Failed:
			e.log.Warn("row extraction failed", zap.Int("row", row), logger.Cells(rc.AllCells), zap.Error(out.Err))
			res.Warnings = append(res.Warnings, catalog.Warning{
				Kind: catalog.WarnRowParseFailure, Row: row, Detail: out.Err.Error(), Cells: rc.AllCells,
			})
		}
	}

	res.State = st
	e.log.Info("row extraction finished",
		zap.Int("records", len(res.Records)),
		zap.Int("warnings", len(res.Warnings)),
		zap.Bool("partial", res.Partial),
		zap.Bool("degraded", res.Degraded))
	return res
}

func (e *Extractor) wouldSkip(rc Context) bool {
	if !blank(rc.Model) || !blank(rc.Description) {
		return false
	}
	return e.meaningfulPrices(rc.PriceCells) < e.h.MinMeaningfulPrices
}

func (e *Extractor) skipWarning(row int, rc Context, reason string) catalog.Warning {
	e.log.Debug("row skipped", zap.Int("row", row), zap.String("reason", reason), logger.Cells(rc.AllCells))
	return catalog.Warning{Kind: catalog.WarnRowSkipped, Row: row, Detail: reason, Cells: rc.AllCells}
}

func sameCells(a, b []string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if sheet.Fold(a[i]) != sheet.Fold(b[i]) {
			return false
		}
	}
	return true
}

func pricesBlank(cells []PriceCell) bool {
	for _, c := range cells {
		if !blank(c.Value) {
			return false
		}
	}
	return true
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
