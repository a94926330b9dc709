package rows

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/config"
	"github.com/Kurai777/Alda-oficial-sub004/internal/layout"
	"github.com/Kurai777/Alda-oficial-sub004/internal/llm"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
)

type fakeService struct {
	calls int
	fn    func(ctx context.Context, rc Context) (*Extraction, error)
}

func (f *fakeService) ExtractRow(ctx context.Context, rc Context) (*Extraction, error) {
	f.calls++
	return f.fn(ctx, rc)
}

func newExtractor(svc Service) *Extractor {
	return NewExtractor(svc, config.DefaultHeuristics(), 0, nil)
}

func mapGrid(t *testing.T, g sheet.Grid) layout.Mapping {
	t.Helper()
	m := layout.NewDetector(config.DefaultHeuristics()).Detect(g)
	if m.LowConfidence {
		t.Fatalf("fixture header not detected")
	}
	return m
}

func countKind(ws []catalog.Warning, k catalog.WarningKind) int {
	n := 0
	for _, w := range ws {
		if w.Kind == k {
			n++
		}
	}
	return n
}

func TestModelBaseContinuationAndReset(t *testing.T) {
	g := sheet.Grid{Rows: [][]string{
		{"MODELO", "DESCRICAO", "CLASSE 01"},
		{"BORA", "base", "1.000,00"},
		{"", "C/ASSENTO 0,63", "100"},
		{},
		{"", "almofada solta", "50"},
	}}
	res := newExtractor(nil).Run(context.Background(), g, mapGrid(t, g))

	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(res.Records), res.Records)
	}
	a, b, d := res.Records[0], res.Records[1], res.Records[2]
	if a.ModelBase != "BORA" || a.Prices[0].ValueMinor != 100000 {
		t.Fatalf("unexpected row A %+v", a)
	}
	if b.ModelBase != "BORA" || b.Name != "BORA C/ASSENTO 0,63" || b.VariationDescription != "C/ASSENTO 0,63" {
		t.Fatalf("row B should continue BORA, got %+v", b)
	}
	if d.ModelBase == "BORA" {
		t.Fatalf("row D must not inherit BORA across a blank row")
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("an entirely empty row should not warn: %v", res.Warnings)
	}
}

func TestStepWithInjectedState(t *testing.T) {
	e := newExtractor(nil)
	rc := Context{RowIndex: 7, Description: "2 lugares", PriceCells: []PriceCell{{Header: "A", Value: "R$ 2.500"}}}

	out, next := e.Step(context.Background(), Heuristic{}, State{LastModelBase: "LUNA"}, rc)
	if out.Kind != Extracted || out.Record.ModelBase != "LUNA" || out.Record.RowIndex != 7 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if next.LastModelBase != "LUNA" {
		t.Fatalf("state should carry LUNA, got %+v", next)
	}

	noise := Context{Dimensions: "ver legenda", PriceCells: []PriceCell{{Header: "A", Value: "0,00"}}}
	out, next = e.Step(context.Background(), Heuristic{}, State{LastModelBase: "LUNA"}, noise)
	if out.Kind != SkippedNoSignal || next.LastModelBase != "" {
		t.Fatalf("no-signal row should skip and reset, got %v %+v", out.Kind, next)
	}
}

func TestNotProductAndFailureKeepState(t *testing.T) {
	svc := &fakeService{fn: func(_ context.Context, rc Context) (*Extraction, error) {
		switch rc.Model {
		case "TITULO":
			return nil, nil
		case "QUEBRADO":
			return nil, ErrMalformedResponse
		}
		return &Extraction{Name: rc.Model + rc.Description, ModelBase: firstNonBlank(rc.Model, rc.LastModelBase),
			PriceVariations: []PriceVariation{{ClassName: "A", Price: rc.PriceCells[0].Value}}}, nil
	}}
	g := sheet.Grid{Rows: [][]string{
		{"MODELO", "DESCRICAO", "CLASSE 01"},
		{"SOFA", "", "10"},
		{"TITULO", "", ""},
		{"QUEBRADO", "", "5"},
		{"", "3 lugares", "20"},
	}}
	res := newExtractor(svc).Run(context.Background(), g, mapGrid(t, g))

	if len(res.Records) != 2 || res.Records[1].ModelBase != "SOFA" {
		t.Fatalf("expected SOFA to carry over the failed and non-product rows: %+v", res.Records)
	}
	if countKind(res.Warnings, catalog.WarnRowSkipped) != 1 || countKind(res.Warnings, catalog.WarnRowParseFailure) != 1 {
		t.Fatalf("unexpected warnings %v", res.Warnings)
	}
	if svc.calls != 4 {
		t.Fatalf("expected 4 service calls, got %d", svc.calls)
	}
}

func TestUnavailableServiceDegradesToHeuristic(t *testing.T) {
	svc := &fakeService{fn: func(context.Context, Context) (*Extraction, error) {
		return nil, ErrServiceUnavailable
	}}
	g := sheet.Grid{Rows: [][]string{
		{"MODELO", "CLASSE 01"},
		{"A", "1"},
		{"B", "2"},
		{"C", "3"},
	}}
	res := newExtractor(svc).Run(context.Background(), g, mapGrid(t, g))

	if svc.calls != 1 {
		t.Fatalf("service should not be called after it became unavailable, got %d calls", svc.calls)
	}
	if !res.Degraded || len(res.Records) != 3 || countKind(res.Warnings, catalog.WarnServiceUnavailable) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCancellationLetsInFlightCallFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inflightErr error
	svc := &fakeService{}
	svc.fn = func(callCtx context.Context, rc Context) (*Extraction, error) {
		if svc.calls == 2 {
			cancel()
			inflightErr = callCtx.Err()
		}
		return &Extraction{Name: rc.Model, ModelBase: rc.Model}, nil
	}
	g := sheet.Grid{Rows: [][]string{
		{"MODELO", "CLASSE 01"},
		{"A", "1"},
		{"B", "2"},
		{"C", "3"},
		{"D", "4"},
	}}
	res := newExtractor(svc).Run(ctx, g, mapGrid(t, g))

	if !res.Partial {
		t.Fatalf("expected partial result")
	}
	if inflightErr != nil {
		t.Fatalf("in-flight call saw cancellation: %v", inflightErr)
	}
	if svc.calls != 2 || len(res.Records) != 2 || res.Records[1].ModelBase != "B" {
		t.Fatalf("expected rows A and B kept, got calls=%d records=%+v", svc.calls, res.Records)
	}
}

func TestUnparseablePricesDropped(t *testing.T) {
	svc := &fakeService{fn: func(context.Context, Context) (*Extraction, error) {
		return &Extraction{Name: "X", ModelBase: "X", PriceVariations: []PriceVariation{
			{ClassName: "A", Price: "R$ 1.234,56"},
			{ClassName: "B", Price: "#####"},
			{ClassName: "C", Price: "0"},
			{ClassName: "", Price: 99.5},
		}}, nil
	}}
	out, _ := newExtractor(svc).Step(context.Background(), svc, State{}, Context{Model: "X"})
	p := out.Record.Prices
	if len(p) != 2 || p[0].ValueMinor != 123456 || p[1].ValueMinor != 9950 || p[1].ClassName != "PRECO 4" {
		t.Fatalf("unexpected prices %+v", p)
	}
}

func TestRepeatedHeaderSkipped(t *testing.T) {
	g := sheet.Grid{Rows: [][]string{
		{"MODELO", "CLASSE 01"},
		{"A", "1"},
		{"Modelo", "Classe 01"},
		{"", "0"},
	}}
	res := newExtractor(nil).Run(context.Background(), g, mapGrid(t, g))
	if len(res.Records) != 1 || countKind(res.Warnings, catalog.WarnRowSkipped) != 2 {
		t.Fatalf("expected header repeat and orphan row skipped: %+v", res)
	}
}

func TestLLMServiceErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		content string
		body    string
		check   func(*Extraction, error) bool
	}{
		{"not a product", 200, `{"isProduct":false,"name":"","modelBase":"","variationDescription":"","dimensions":"","priceVariations":[]}`, ``,
			func(e *Extraction, err error) bool { return e == nil && err == nil }},
		{"product", 200, `{"isProduct":true,"name":"BORA 3L","modelBase":"BORA","variationDescription":"3L","dimensions":"","priceVariations":[{"className":"A","price":"1.000"}]}`, ``,
			func(e *Extraction, err error) bool { return err == nil && e.ModelBase == "BORA" && len(e.PriceVariations) == 1 }},
		{"malformed", 200, `not json`, ``,
			func(e *Extraction, err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"empty content", 200, ``, `{"choices":[{"message":{"content":""}}]}`,
			func(e *Extraction, err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"empty choices", 200, ``, `{"choices":[]}`,
			func(e *Extraction, err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"body not json", 200, ``, `<html>gateway</html>`,
			func(e *Extraction, err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"unavailable", 503, ``, ``,
			func(e *Extraction, err error) bool { return errors.Is(err, ErrServiceUnavailable) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if c.status != 200 {
					w.WriteHeader(c.status)
					return
				}
				if c.body != "" {
					_, _ = io.WriteString(w, c.body)
					return
				}
				_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":`+quote(c.content)+`}}]}`)
			}))
			defer srv.Close()

			svc := NewLLMService(llm.New(llm.Options{APIKey: "k", BaseURL: srv.URL}))
			ext, err := svc.ExtractRow(context.Background(), Context{Model: "BORA"})
			if !c.check(ext, err) {
				t.Fatalf("unexpected result ext=%+v err=%v", ext, err)
			}
		})
	}
}

func TestEmptyAnswerDropsRowWithoutDegrading(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = io.WriteString(w, `{"choices":[{"message":{"content":""}}]}`)
			return
		}
		row := `{"isProduct":true,"name":"LINA","modelBase":"LINA","variationDescription":"","dimensions":"","priceVariations":[{"className":"CLASSE 01","price":"900"}]}`
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":`+quote(row)+`}}]}`)
	}))
	defer srv.Close()

	g := sheet.Grid{Rows: [][]string{
		{"MODELO", "CLASSE 01"},
		{"A", "1"},
		{"B", "2"},
		{"C", "3"},
	}}
	svc := NewLLMService(llm.New(llm.Options{APIKey: "k", BaseURL: srv.URL}))
	res := newExtractor(svc).Run(context.Background(), g, mapGrid(t, g))

	if res.Degraded || calls != 3 {
		t.Fatalf("a malformed answer must not degrade the run: degraded=%v calls=%d", res.Degraded, calls)
	}
	if len(res.Records) != 2 || res.Records[0].ModelBase != "LINA" {
		t.Fatalf("expected 2 service records, got %+v", res.Records)
	}
	if countKind(res.Warnings, catalog.WarnRowParseFailure) != 1 || countKind(res.Warnings, catalog.WarnServiceUnavailable) != 0 {
		t.Fatalf("unexpected warnings %v", res.Warnings)
	}
}

func quote(s string) string {
	out := []byte{'"'}
	for _, r := range s {
		if r == '"' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, string(r)...)
	}
	return string(append(out, '"'))
}

func TestFailedRowIsLoggedWithCells(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	svc := &fakeService{fn: func(context.Context, Context) (*Extraction, error) {
		return nil, ErrMalformedResponse
	}}
	g := sheet.Grid{Rows: [][]string{
		{"MODELO", "CLASSE 01"},
		{"BORA", "1.200,00"},
	}}
	NewExtractor(svc, config.DefaultHeuristics(), 0, zap.New(core)).Run(context.Background(), g, mapGrid(t, g))

	entries := logs.FilterMessage("row extraction failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	cells, ok := entries[0].ContextMap()["cells"].([]any)
	if !ok || len(cells) != 2 || cells[0] != "BORA" || cells[1] != "1.200,00" {
		t.Fatalf("expected raw cells in the log, got %v", entries[0].ContextMap()["cells"])
	}
}

func TestNumericPriceCellsAreNotReadAsThousands(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range [][]any{
		{"MODELO", "CLASSE 01", "CLASSE 02"},
		{"BORA", 2.125, "R$ 1.500,00"},
		{"LINA", 12.345, 1500},
	} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	g, err := sheet.Load(buf.Bytes())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	res := newExtractor(nil).Run(context.Background(), g, mapGrid(t, g))
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %+v", res.Records)
	}
	want := [][]int64{{213, 150000}, {1235, 150000}}
	for i, rec := range res.Records {
		if len(rec.Prices) != 2 || rec.Prices[0].ValueMinor != want[i][0] || rec.Prices[1].ValueMinor != want[i][1] {
			t.Fatalf("record %s: unexpected prices %+v", rec.ModelBase, rec.Prices)
		}
	}
}

func TestServicePriceCopiedFromNumericCell(t *testing.T) {
	n := 2.125
	svc := &fakeService{fn: func(_ context.Context, rc Context) (*Extraction, error) {
		return &Extraction{Name: rc.Model, ModelBase: rc.Model,
			PriceVariations: []PriceVariation{{ClassName: "A", Price: rc.PriceCells[0].Value}}}, nil
	}}
	e := newExtractor(svc)
	rc := Context{Model: "BORA", PriceCells: []PriceCell{{Header: "A", Value: "2.125", Number: &n}}}
	out, _ := e.Step(context.Background(), svc, State{}, rc)
	if out.Kind != Extracted || len(out.Record.Prices) != 1 || out.Record.Prices[0].ValueMinor != 213 {
		t.Fatalf("expected 213 minor units, got %+v", out)
	}
}
