package media

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
)

const maxPartBytes = 16 << 20

type container struct {
	zr    *zip.Reader
	files map[string]*zip.File
}

func openContainer(data []byte) (*container, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrMalformedContainer, err)
	}
	c := &container{zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		c.files[f.Name] = f
	}
	return c, nil
}

// readEntry reads one entry, refusing entries larger than limit bytes.
func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if limit > 0 && f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, limit)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if limit <= 0 {
		return io.ReadAll(rc)
	}
	// The header size can lie; enforce the limit on the stream too.
	b, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, limit)
	}
	return b, nil
}

func (c *container) read(name string) ([]byte, bool) {
	f, ok := c.files[name]
	if !ok {
		return nil, false
	}
	b, err := readEntry(f, maxPartBytes)
	if err != nil {
		return nil, false
	}
	return b, true
}

type relsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
		Mode   string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// rels returns the relationships of a part, keyed by id, with targets
// resolved to container paths. External targets are dropped.
func (c *container) rels(part string) map[string]string {
	relsPath := path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
	b, ok := c.read(relsPath)
	if !ok {
		return nil
	}
	var r relsXML
	if err := xml.Unmarshal(b, &r); err != nil {
		return nil
	}
	out := make(map[string]string, len(r.Relationships))
	for _, rel := range r.Relationships {
		if strings.EqualFold(rel.Mode, "External") {
			continue
		}
		out[rel.ID] = resolveTarget(part, rel.Target)
	}
	return out
}

func resolveTarget(part, target string) string {
	t := strings.ReplaceAll(target, "\\", "/")
	if strings.HasPrefix(t, "/") {
		return path.Clean(strings.TrimPrefix(t, "/"))
	}
	return path.Clean(path.Join(path.Dir(part), t))
}
