package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_DRIVER", "none")
	t.Setenv("SCRATCH_DIR", filepath.Join(dir, "scratch"))
	t.Setenv("IMAGE_STORE_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("ENV", "production")
	envFile = ""

	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"COD", "MODELO", "CLASSE 01"},
		{"A1", "BORA", "1.000,00"},
		{"A2", "LINA", "950,00"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	p := filepath.Join(dir, "tabela.xlsx")
	if err := f.SaveAs(p); err != nil {
		t.Fatalf("save: %v", err)
	}
	return p
}

func TestIngestCommand(t *testing.T) {
	src := testEnv(t)
	cmd := newIngestCmd()
	cmd.SetArgs([]string{src, "--catalog-id", "cli-1", "--manufacturer", "Moveis X"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestIngestCommandRejectsSharedCatalogID(t *testing.T) {
	src := testEnv(t)
	cmd := newIngestCmd()
	cmd.SetArgs([]string{src, src, "--catalog-id", "cli-1"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "single source") {
		t.Fatalf("expected single-source error, got %v", err)
	}
}

func TestIngestCommandReportsFailures(t *testing.T) {
	testEnv(t)
	cmd := newIngestCmd()
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.xlsx")})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "1 of 1") {
		t.Fatalf("expected failure count, got %v", err)
	}
}

func TestInspectCommand(t *testing.T) {
	src := testEnv(t)
	cmd := newInspectCmd()
	cmd.SetArgs([]string{src, "--rows", "3"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("inspect: %v", err)
	}
}

func TestRepairRequiresDatabase(t *testing.T) {
	testEnv(t)
	cmd := newRepairCmd()
	cmd.SetArgs([]string{"--catalog-id", "cli-1"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error without a database")
	}
}
