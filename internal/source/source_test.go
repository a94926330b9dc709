package source

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
)

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", "MODELO"); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestValidateDownloadURLRejectsNonHTTPS(t *testing.T) {
	if err := validateDownloadURL("http://example.com/catalog.xlsx"); err == nil {
		t.Fatalf("expected non-https URL to be rejected")
	}
}

func TestValidateDownloadURLRejectsLocalAndPrivateHosts(t *testing.T) {
	cases := []string{
		"https://localhost/catalog.xlsx",
		"https://127.0.0.1/catalog.xlsx",
		"https://10.0.0.5/catalog.xlsx",
		"https://192.168.1.5/catalog.xlsx",
		"https://100.64.0.1/catalog.xlsx",
	}
	for _, c := range cases {
		if err := validateDownloadURL(c); err == nil {
			t.Fatalf("expected URL %q to be rejected", c)
		}
	}
}

func TestValidateDownloadURLAllowsPublicHTTPS(t *testing.T) {
	if err := validateDownloadURL("https://example.com/catalog.xlsx"); err != nil {
		t.Fatalf("expected public https URL to be allowed, got %v", err)
	}
}

func TestValidateDownloadURLAllowsPrivateLocalWhenEnabled(t *testing.T) {
	t.Setenv("ALLOW_PRIVATE_DOWNLOAD_URLS", "1")

	for _, c := range []string{"http://localhost/a.xlsx", "http://127.0.0.1/a.xlsx", "https://10.0.0.5/a.xlsx"} {
		if err := validateDownloadURL(c); err != nil {
			t.Fatalf("expected URL %q to be allowed with private flag, got %v", c, err)
		}
	}
	if err := validateDownloadURL("http://example.com/a.xlsx"); err == nil {
		t.Fatalf("expected public http URL to remain rejected")
	}
}

func TestFetchLocalWorkbook(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tabela.xlsx")
	if err := os.WriteFile(p, workbook(t), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Fetch(context.Background(), p, Options{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if f.Name != "tabela.xlsx" || f.Size == 0 || !isSpreadsheet(f.MIMEType, f.Name) {
		t.Fatalf("unexpected file %+v", f)
	}
}

func TestFetchRejectsNonSpreadsheet(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.xlsx")
	if err := os.WriteFile(p, []byte("just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Fetch(context.Background(), p, Options{}); !errors.Is(err, catalog.ErrMalformedContainer) {
		t.Fatalf("expected ErrMalformedContainer, got %v", err)
	}
}

func TestIsSpreadsheet(t *testing.T) {
	cases := []struct {
		mime, name string
		want       bool
	}{
		{xlsxMIME, "a.bin", true},
		{"application/zip", "tabela.XLSX", true},
		{"application/zip", "fotos.zip", false},
		{"text/plain; charset=utf-8", "a.xlsx", false},
	}
	for _, c := range cases {
		if got := isSpreadsheet(c.mime, c.name); got != c.want {
			t.Fatalf("isSpreadsheet(%q, %q) = %v", c.mime, c.name, got)
		}
	}
}

func TestFetchMissingAndOversized(t *testing.T) {
	if _, err := Fetch(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"), Options{}); !errors.Is(err, catalog.ErrSourceDownload) {
		t.Fatalf("expected ErrSourceDownload for missing file, got %v", err)
	}
	p := filepath.Join(t.TempDir(), "big.xlsx")
	if err := os.WriteFile(p, workbook(t), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Fetch(context.Background(), p, Options{MaxBytes: 10}); !errors.Is(err, catalog.ErrSourceDownload) {
		t.Fatalf("expected ErrSourceDownload for oversized file, got %v", err)
	}
}

func TestFetchDownloadsIntoDir(t *testing.T) {
	t.Setenv("ALLOW_PRIVATE_DOWNLOAD_URLS", "1")
	data := workbook(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.xlsx" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "cat-1", "source")
	f, err := Fetch(context.Background(), srv.URL+"/files/precos.xlsx?token=x", Options{Dir: dir})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if f.Path != filepath.Join(dir, "precos.xlsx") || !bytes.Equal(f.Data, data) {
		t.Fatalf("unexpected file %s", f.Path)
	}
	if _, err := os.Stat(f.Path); err != nil {
		t.Fatalf("downloaded file not written: %v", err)
	}

	if _, err := Fetch(context.Background(), srv.URL+"/missing.xlsx", Options{Dir: dir}); !errors.Is(err, catalog.ErrSourceDownload) {
		t.Fatalf("expected ErrSourceDownload for 404, got %v", err)
	}
}
