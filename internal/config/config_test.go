package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c := Load()
	if c.DatabaseDriver != "sqlite" {
		t.Fatalf("expected sqlite default, got %q", c.DatabaseDriver)
	}
	if c.Heuristics.HeaderScanRows != 25 {
		t.Fatalf("unexpected header scan rows: %d", c.Heuristics.HeaderScanRows)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ROW_CALL_INTERVAL", "0s")
	t.Setenv("PERSIST_BATCH_SIZE", "50")
	t.Setenv("EAGER_IMAGE_REPAIR", "false")
	t.Setenv("LLM_TIMEOUT", "not-a-duration")

	c := Load()
	if c.RowCallInterval != 0 {
		t.Fatalf("expected zero interval, got %s", c.RowCallInterval)
	}
	if c.PersistBatchSize != 50 {
		t.Fatalf("expected batch size 50, got %d", c.PersistBatchSize)
	}
	if c.EagerImageRepair {
		t.Fatalf("expected eager repair disabled")
	}
	if c.LLMTimeout != 60*time.Second {
		t.Fatalf("invalid duration should fall back, got %s", c.LLMTimeout)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	c := Load()
	c.DatabaseDriver = "mysql"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected unknown driver to be rejected")
	}
}

func TestLoadHeuristicsOverlay(t *testing.T) {
	p := filepath.Join(t.TempDir(), "heuristics.yaml")
	content := "header_scan_rows: 10\nmin_price_minor_units: 500\nvocabulary:\n  Price: [\"TABELA\"]\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write heuristics: %v", err)
	}

	c := Load()
	if err := c.LoadHeuristics(p); err != nil {
		t.Fatalf("load heuristics: %v", err)
	}
	if c.Heuristics.HeaderScanRows != 10 {
		t.Fatalf("expected overlay scan rows, got %d", c.Heuristics.HeaderScanRows)
	}
	if c.Heuristics.MinPriceMinorUnits != 500 {
		t.Fatalf("expected overlay min price, got %d", c.Heuristics.MinPriceMinorUnits)
	}
	if c.Heuristics.MinHeaderMatches != 2 {
		t.Fatalf("absent keys must keep defaults, got %d", c.Heuristics.MinHeaderMatches)
	}
	if got := c.Heuristics.Vocabulary["price"]; len(got) != 1 || got[0] != "TABELA" {
		t.Fatalf("expected price vocabulary override, got %v", got)
	}
	if len(c.Heuristics.Vocabulary["code"]) == 0 {
		t.Fatalf("other roles must keep their vocabulary")
	}
}

func TestLoadHeuristicsRejectsBadYAML(t *testing.T) {
	c := Load()
	if err := c.applyHeuristics([]byte("header_scan_rows: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}
