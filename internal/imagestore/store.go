// Package imagestore persists image bytes under string keys.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidKey = errors.New("invalid image key")
	// ErrKeyExists is returned when saving different bytes under a key that
	// is already taken. Stored files are never overwritten.
	ErrKeyExists = errors.New("image key already holds different content")
)

// Store is the image persistence boundary. Keys are slash-separated relative
// paths; Save returns the public URL of the stored object.
type Store interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
	// Resolve maps a stored reference (URL or key) back to its key.
	Resolve(ref string) (string, bool)
}

// Local stores images as files below Root and serves them under BaseURL.
type Local struct {
	Root    string
	BaseURL string
}

func NewLocal(root, baseURL string) *Local {
	return &Local{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}
}

func cleanKey(key string) (string, error) {
	k := strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	k = strings.TrimPrefix(k, "/")
	if k == "" {
		return "", ErrInvalidKey
	}
	c := path.Clean(k)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return c, nil
}

// Path is the filesystem location of key.
func (l *Local) Path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Root, filepath.FromSlash(k)), nil
}

func (l *Local) URL(key string) string {
	k, err := cleanKey(key)
	if err != nil {
		return ""
	}
	return l.BaseURL + "/" + k
}

// Save writes data to a temporary file and links it into place, so readers
// never see a partial file and an existing key is never replaced. Saving
// identical bytes again is a no-op.
func (l *Local) Save(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := l.Path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	if existing, err := os.ReadFile(dst); err == nil {
		if bytes.Equal(existing, data) {
			return l.URL(key), nil
		}
		return "", fmt.Errorf("%w: %s", ErrKeyExists, key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp image: %w", err)
	}

	if err := os.Link(tmpName, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost a race with another writer; accept only identical content.
			if existing, rerr := os.ReadFile(dst); rerr == nil && bytes.Equal(existing, data) {
				return l.URL(key), nil
			}
			return "", fmt.Errorf("%w: %s", ErrKeyExists, key)
		}
		// Filesystems without hard links.
		if _, serr := os.Stat(dst); serr == nil {
			return "", fmt.Errorf("%w: %s", ErrKeyExists, key)
		}
		if rerr := os.Rename(tmpName, dst); rerr != nil {
			return "", fmt.Errorf("place image: %w", rerr)
		}
	}
	return l.URL(key), nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.Path(key)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if err == nil {
		return st.Mode().IsRegular(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) Read(_ context.Context, key string) ([]byte, error) {
	p, err := l.Path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Resolve accepts a key, a URL under BaseURL, or a filesystem path under
// Root. Any other absolute URL is not resolvable locally.
func (l *Local) Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	switch {
	case l.BaseURL != "" && strings.HasPrefix(ref, l.BaseURL+"/"):
		ref = strings.TrimPrefix(ref, l.BaseURL+"/")
	case filepath.IsAbs(ref):
		rel, err := filepath.Rel(l.Root, ref)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", false
		}
		ref = filepath.ToSlash(rel)
	case strings.Contains(ref, "://"):
		return "", false
	}
	k, err := cleanKey(ref)
	if err != nil {
		return "", false
	}
	return k, true
}
