// Package media pulls raster images out of a workbook container and pairs
// them with extracted products.
package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
)

const mediaDir = "xl/media/"

var rasterExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

type Options struct {
	MaxEntryBytes int64
	Logger        *zap.Logger
}

// Extract returns the raster images of the container in listing order.
// A container without media yields no images and no error; only a file that
// is not an archive at all fails, with catalog.ErrMalformedContainer.
func Extract(data []byte, opts Options) ([]catalog.ImageAsset, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("media")

	c, err := openContainer(data)
	if err != nil {
		return nil, err
	}

	paths := c.mediaPaths()
	if len(paths) == 0 {
		paths = c.referencedImages()
	}
	if len(paths) == 0 {
		log.Debug("container has no embedded media")
		return nil, nil
	}

	anchors := c.anchorRows()
	var out []catalog.ImageAsset
	for _, p := range paths {
		b, err := readEntry(c.files[p], opts.MaxEntryBytes)
		if err != nil {
			log.Warn("skipping media entry", zap.String("path", p), zap.Error(err))
			continue
		}
		asset, ok := decodeAsset(p, b)
		if !ok {
			log.Warn("skipping undecodable media entry", zap.String("path", p))
			continue
		}
		asset.Index = len(out)
		asset.AnchorRows = anchors[p]
		out = append(out, asset)
	}

	log.Debug("extracted media", zap.Int("images", len(out)), zap.Int("anchored", len(anchors)))
	return out, nil
}

func (c *container) mediaPaths() []string {
	var out []string
	for _, f := range c.zr.File {
		if strings.HasPrefix(f.Name, mediaDir) && isRaster(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}

// referencedImages finds raster targets of any relationship part, for
// containers that keep images outside the conventional media directory.
func (c *container) referencedImages() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range c.zr.File {
		if !strings.HasSuffix(f.Name, ".rels") {
			continue
		}
		dir := path.Dir(path.Dir(f.Name))
		part := path.Join(dir, strings.TrimSuffix(path.Base(f.Name), ".rels"))
		rels := c.rels(part)
		ids := make([]string, 0, len(rels))
		for id := range rels {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			target := rels[id]
			if seen[target] || !isRaster(target) {
				continue
			}
			if _, ok := c.files[target]; !ok {
				continue
			}
			seen[target] = true
			out = append(out, target)
		}
	}
	return out
}

func isRaster(name string) bool {
	return rasterExts[strings.ToLower(path.Ext(name))]
}

func decodeAsset(p string, b []byte) (catalog.ImageAsset, bool) {
	mt := mimetype.Detect(b)
	if !strings.HasPrefix(mt.String(), "image/") {
		return catalog.ImageAsset{}, false
	}
	img, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return catalog.ImageAsset{}, false
	}
	bounds := img.Bounds()
	return catalog.ImageAsset{
		ContentHash:   HashBytes(b),
		ContainerPath: p,
		MIMEType:      mt.String(),
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Data:          b,
	}, true
}

// HashBytes is the content hash used as an image's identity.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
