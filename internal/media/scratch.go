package media

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
)

var unsafeName = regexp.MustCompile(`[^\w\-.]`)

// ScratchDir is the per-catalog working directory. Catalogs never share one.
func ScratchDir(root, catalogID string) (string, error) {
	if !catalog.ValidID(catalogID) {
		return "", fmt.Errorf("invalid catalog id %q", catalogID)
	}
	return filepath.Join(root, catalogID), nil
}

// StoreName is the file name an image is kept under, in scratch and in the
// image store: the first 16 hex digits of its content hash plus its
// extension. Unhashed images fall back to their sanitized container name.
func StoreName(img catalog.ImageAsset) string {
	h := img.ContentHash
	if h == "" {
		return unsafeName.ReplaceAllString(path.Base(img.ContainerPath), "_")
	}
	if len(h) > 16 {
		h = h[:16]
	}
	return h + img.Ext()
}

// WriteScratch writes each image under <root>/<catalogID>/media using its
// StoreName and returns the written paths in image order. Identical images
// share one file.
func WriteScratch(root, catalogID string, images []catalog.ImageAsset) ([]string, error) {
	dir, err := ScratchDir(root, catalogID)
	if err != nil {
		return nil, err
	}
	dir = filepath.Join(dir, "media")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	paths := make([]string, 0, len(images))
	for _, img := range images {
		p := filepath.Join(dir, StoreName(img))
		if err := os.WriteFile(p, img.Data, 0o644); err != nil {
			return nil, fmt.Errorf("write scratch image: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
