package sheet

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestLoadFirstSheet(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"COD", "MODELO", "CLASSE 01"},
		{"A1", "  BORA   <b>Sofa</b> ", "R$ 1.234,56"},
		{},
		{"A2", "LINA", "999"},
	})

	g, err := Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.SheetName != "Sheet1" {
		t.Fatalf("unexpected sheet %q", g.SheetName)
	}
	if got := g.Cell(1, 1); got != "BORA Sofa" {
		t.Fatalf("expected cleaned cell, got %q", got)
	}
	if !g.RowEmpty(2) {
		t.Fatalf("expected row 2 empty")
	}
	if g.Cell(3, 0) != "A2" || g.Cell(99, 0) != "" || g.Cell(1, 99) != "" {
		t.Fatalf("cell access out of shape")
	}
	if g.Width() != 3 {
		t.Fatalf("expected width 3, got %d", g.Width())
	}
}

func TestLoadKeepsStoredNumbers(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"MODELO", "CLASSE 01", "CLASSE 02"},
		{"BORA", 2.125, "1.500"},
		{"LINA", 12.345, 990},
	})

	g, err := Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, ok := g.Number(1, 1); !ok || v != 2.125 {
		t.Fatalf("expected stored 2.125, got %v %v", v, ok)
	}
	if v, ok := g.Number(2, 1); !ok || v != 12.345 {
		t.Fatalf("expected stored 12.345, got %v %v", v, ok)
	}
	if v, ok := g.Number(2, 2); !ok || v != 990 {
		t.Fatalf("expected stored 990, got %v %v", v, ok)
	}
	if _, ok := g.Number(1, 2); ok {
		t.Fatalf("text cell must not report a number")
	}
	if _, ok := g.Number(1, 0); ok {
		t.Fatalf("model cell must not report a number")
	}
	if g.Cell(1, 2) != "1.500" {
		t.Fatalf("unexpected text %q", g.Cell(1, 2))
	}
}

func TestLoadRejectsNonWorkbook(t *testing.T) {
	_, err := Load([]byte("not a zip at all"))
	if !errors.Is(err, catalog.ErrMalformedContainer) {
		t.Fatalf("expected ErrMalformedContainer, got %v", err)
	}
}

func TestSampleIncludesAbsoluteRowIndex(t *testing.T) {
	g := Grid{Rows: [][]string{{"a"}, {"b", "x|y"}, {"c"}}}
	s := g.Sample(1, 3)
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, separator and 2 rows, got %d lines:\n%s", len(lines), s)
	}
	if !strings.HasPrefix(lines[2], "| 1 | b | x\\|y |") {
		t.Fatalf("unexpected row line %q", lines[2])
	}
	if g.Sample(5, 9) != "" {
		t.Fatalf("expected empty sample for out of range window")
	}
}

func TestFindRowsFoldsAccents(t *testing.T) {
	g := Grid{Rows: [][]string{
		{"CÓD", "Preço"},
		{"x"},
		{"Legenda das classes"},
		{"", "TABELA DE CORES"},
	}}
	got := g.FindRows(1, []string{"LEGENDA", "tabela de cores"})
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected rows %v", got)
	}
}

func TestFold(t *testing.T) {
	if Fold("  Descrição   do produto ") != "DESCRICAO DO PRODUTO" {
		t.Fatalf("unexpected fold %q", Fold("  Descrição   do produto "))
	}
}
