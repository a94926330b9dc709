package layout

import (
	"testing"

	"github.com/Kurai777/Alda-oficial-sub004/internal/config"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
)

func newDetector() *Detector {
	return NewDetector(config.DefaultHeuristics())
}

func TestDetectHeaderAfterTitleRows(t *testing.T) {
	g := sheet.Grid{Rows: [][]string{
		{"TABELA DE PREÇOS 2024"},
		{},
		{"CÓD.", "Modelo", "Descrição", "Medidas (LxPxA)", "Classe 01", "Classe 02"},
		{"A1", "BORA", "base", "2,10 x 0,95", "R$ 1.000,00", "R$ 1.200,00"},
	}}

	m := newDetector().Detect(g)
	if m.LowConfidence {
		t.Fatalf("expected confident mapping")
	}
	if m.HeaderRow != 2 || m.DataStartRow != 3 {
		t.Fatalf("unexpected header/data rows: %d/%d", m.HeaderRow, m.DataStartRow)
	}
	if m.Code != 0 || m.Model != 1 || m.Description != 2 || m.Dimensions != 3 {
		t.Fatalf("unexpected roles: %+v", m)
	}
	if len(m.Prices) != 2 || m.Prices[0].Index != 4 || m.Prices[1].Header != "Classe 02" {
		t.Fatalf("unexpected price columns: %+v", m.Prices)
	}
}

func TestDetectFallsBackToDefault(t *testing.T) {
	g := sheet.Grid{Rows: [][]string{
		{"BORA", "1000", "1200"},
		{"LINA", "900", "950"},
	}}
	m := newDetector().Detect(g)
	if !m.LowConfidence || m.Source != "default" {
		t.Fatalf("expected low-confidence default mapping, got %+v", m)
	}
	if m.Model != 0 || len(m.Prices) != 2 || m.Prices[0].Index != 1 {
		t.Fatalf("unexpected default mapping: %+v", m)
	}
	if m.DataStartRow != 0 || m.HeaderRow != -1 {
		t.Fatalf("default mapping should start at row 0: %+v", m)
	}
}

func TestDetectIgnoresNumericRows(t *testing.T) {
	g := sheet.Grid{Rows: [][]string{
		{"1", "2", "3"},
		{"code", "name", "CLASSE 01", "CLASSE 02"},
	}}
	m := newDetector().Detect(g)
	if m.HeaderRow != 1 {
		t.Fatalf("expected header row 1, got %d", m.HeaderRow)
	}
	if m.Code != 0 || m.Model != 1 || len(m.Prices) != 2 {
		t.Fatalf("unexpected mapping %+v", m)
	}
}

func TestDetectRespectsScanLimit(t *testing.T) {
	h := config.DefaultHeuristics()
	h.HeaderScanRows = 1
	g := sheet.Grid{Rows: [][]string{
		{"catalogo"},
		{"COD", "MODELO", "PRECO"},
	}}
	m := NewDetector(h).Detect(g)
	if !m.LowConfidence {
		t.Fatalf("header beyond scan limit must not be found")
	}
}

func TestClassifyPriority(t *testing.T) {
	d := newDetector()
	cases := map[string]Role{
		"Descrição do Produto": RoleModel,
		"DESCRIÇÃO":            RoleDescription,
		"Preço à vista":        RolePrice,
		"Referência":           RoleCode,
		"L x P x A":            RoleDimensions,
		"Categoria":            RoleCategory,
	}
	for header, want := range cases {
		got, ok := d.Classify(header)
		if !ok || got != want {
			t.Fatalf("Classify(%q) = %q,%v want %q", header, got, ok, want)
		}
	}
	if _, ok := d.Classify("Observações gerais do fornecedor xyz"); ok {
		t.Fatalf("did not expect a role for free text")
	}
}

func TestMapHeaderRow(t *testing.T) {
	g := sheet.Grid{Rows: [][]string{
		{"x"},
		{"MODELO", "VALOR"},
	}}
	m, ok := newDetector().MapHeaderRow(g, 1)
	if !ok || m.Model != 0 || len(m.Prices) != 1 || m.DataStartRow != 2 {
		t.Fatalf("unexpected mapping %+v ok=%v", m, ok)
	}
	if _, ok := newDetector().MapHeaderRow(g, 0); ok {
		t.Fatalf("row without vocabulary must not map")
	}
}
