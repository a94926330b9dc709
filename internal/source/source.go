// Package source obtains catalog files from a local path or an https URL.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type File struct {
	// Path is where the bytes live on disk: the local input itself, or the
	// downloaded copy inside the catalog's scratch directory.
	Path     string
	Name     string
	MIMEType string
	Size     int64
	Data     []byte
}

type Options struct {
	// Dir receives downloaded files. It should be the catalog's own scratch
	// directory.
	Dir      string
	MaxBytes int64
	Timeout  time.Duration
	Client   *http.Client
}

// Fetch reads src, which is either a filesystem path or an http(s) URL.
// Failing to obtain the bytes is catalog.ErrSourceDownload; bytes that are
// not a spreadsheet container are catalog.ErrMalformedContainer.
func Fetch(ctx context.Context, src string, opts Options) (File, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return File{}, fmt.Errorf("%w: empty source", catalog.ErrSourceDownload)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 200 << 20
	}

	var (
		f   File
		err error
	)
	if isURL(src) {
		f, err = download(ctx, src, opts)
	} else {
		f, err = readLocal(src, opts.MaxBytes)
	}
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", catalog.ErrSourceDownload, err)
	}

	f.MIMEType = sniffMIMEType(f.Data)
	if !isSpreadsheet(f.MIMEType, f.Name) {
		return File{}, fmt.Errorf("%w: %s is %s, not a spreadsheet", catalog.ErrMalformedContainer, f.Name, f.MIMEType)
	}
	return f, nil
}

func isURL(src string) bool {
	l := strings.ToLower(src)
	return strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "http://")
}

func readLocal(p string, maxBytes int64) (File, error) {
	st, err := os.Stat(p)
	if err != nil {
		return File{}, err
	}
	if !st.Mode().IsRegular() {
		return File{}, fmt.Errorf("%s is not a regular file", p)
	}
	if st.Size() > maxBytes {
		return File{}, fmt.Errorf("file exceeds %dMB limit", maxBytes/(1<<20))
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return File{}, err
	}
	return File{Path: p, Name: filepath.Base(p), Size: int64(len(b)), Data: b}, nil
}

func download(ctx context.Context, rawURL string, opts Options) (File, error) {
	if err := validateDownloadURL(rawURL); err != nil {
		return File{}, err
	}
	if opts.Dir == "" {
		return File{}, errors.New("no download directory")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return File{}, fmt.Errorf("download dir: %w", err)
	}

	name := fileNameFromURL(rawURL)
	outPath := filepath.Join(opts.Dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return File{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "catalogctl/1.0")

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return File{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	lr := &io.LimitedReader{R: resp.Body, N: opts.MaxBytes + 1}
	b, err := io.ReadAll(lr)
	if err != nil {
		return File{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > opts.MaxBytes {
		return File{}, fmt.Errorf("file exceeds %dMB limit", opts.MaxBytes/(1<<20))
	}
	if err := os.WriteFile(outPath, b, 0o644); err != nil {
		return File{}, fmt.Errorf("write: %w", err)
	}
	return File{Path: outPath, Name: name, Size: int64(len(b)), Data: b}, nil
}

func fileNameFromURL(rawURL string) string {
	name := "catalog.xlsx"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	return filepath.Base(strings.ReplaceAll(name, "\\", "_"))
}

func validateDownloadURL(rawURL string) error {
	allowPrivate := allowPrivateDownloadURLs()

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed == nil {
		return fmt.Errorf("invalid download URL")
	}

	host := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if host == "" {
		return fmt.Errorf("download URL host is required")
	}

	isLocalName := host == "localhost" || strings.HasSuffix(host, ".localhost")
	isPrivateIP := false

	ip := net.ParseIP(host)
	if ip != nil {
		isPrivateIP = isPrivateOrLocalIP(ip)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "https":
	case "http":
		if !(allowPrivate && (isLocalName || isPrivateIP)) {
			return fmt.Errorf("download URL must use https")
		}
	default:
		return fmt.Errorf("download URL must use https")
	}

	if isLocalName || isPrivateIP {
		if allowPrivate {
			return nil
		}
		return fmt.Errorf("download URL host is not allowed")
	}
	return nil
}

func allowPrivateDownloadURLs() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_PRIVATE_DOWNLOAD_URLS")))
	return v == "1" || v == "true" || v == "yes"
}

func isPrivateOrLocalIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	// RFC6598 carrier-grade NAT range: 100.64.0.0/10
	if v4 := ip.To4(); v4 != nil && v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127 {
		return true
	}
	return false
}

func sniffMIMEType(b []byte) string {
	if m := mimetype.Detect(b); m != nil {
		return strings.ToLower(strings.TrimSpace(m.String()))
	}
	return strings.ToLower(http.DetectContentType(b))
}

// isSpreadsheet accepts the xlsx signature, or a plain zip whose name says
// it is a workbook (some writers omit the parts mimetype looks for).
func isSpreadsheet(mt, name string) bool {
	if strings.HasPrefix(mt, xlsxMIME) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	return strings.HasPrefix(mt, "application/zip") && (ext == ".xlsx" || ext == ".xlsm")
}
