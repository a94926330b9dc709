package media

import (
	"fmt"
	"path"
	"strings"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
)

type Method string

const (
	MethodAnchor      Method = "anchor"
	MethodPosition    Method = "position"
	MethodFilename    Method = "filename"
	MethodPlaceholder Method = "placeholder"
)

// Association pairs one image with one product. Placeholder associations
// carry a generated id instead of a product id.
type Association struct {
	ImageIndex  int    `json:"imageIndex"`
	ProductID   string `json:"productId,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Method      Method `json:"method"`
}

// Associate pairs images with products. Anchored images go to the product
// on, or nearest within tolerance to, each anchor row; one image anchored on
// several rows is associated with each of those products. Each unanchored image
// N then tries, in order: the Nth product if it still lacks an image, a
// product whose code or name appears in the file name, and finally a
// placeholder. AssignedProductID is set on images in place.
func Associate(images []catalog.ImageAsset, products []catalog.ProductRecord, tolerance int) ([]Association, []catalog.Warning) {
	var (
		out      []Association
		warnings []catalog.Warning
		taken    = make([]bool, len(products))
	)

	assign := func(img *catalog.ImageAsset, p int, m Method) {
		taken[p] = true
		if img.AssignedProductID == "" {
			img.AssignedProductID = products[p].ID
		}
		out = append(out, Association{ImageIndex: img.Index, ProductID: products[p].ID, Method: m})
	}
	placeholder := func(img *catalog.ImageAsset, reason string) {
		id := PlaceholderID(*img)
		out = append(out, Association{ImageIndex: img.Index, Placeholder: id, Method: MethodPlaceholder})
		warnings = append(warnings, catalog.Warning{
			Kind: catalog.WarnImageUnassigned, Row: -1,
			Detail: fmt.Sprintf("%s: %s", img.ContainerPath, reason),
		})
	}

	for i := range images {
		img := &images[i]
		if len(img.AnchorRows) == 0 {
			continue
		}
		matched := false
		for _, row := range img.AnchorRows {
			if p := nearestProduct(products, taken, row, tolerance); p >= 0 {
				assign(img, p, MethodAnchor)
				matched = true
			}
		}
		if !matched {
			placeholder(img, "no product near anchor row")
		}
	}

	for i := range images {
		img := &images[i]
		if len(img.AnchorRows) > 0 {
			continue
		}
		if n := img.Index; n < len(products) && !taken[n] {
			assign(img, img.Index, MethodPosition)
			continue
		}
		if p := filenameMatch(products, taken, img.ContainerPath); p >= 0 {
			assign(img, p, MethodFilename)
			continue
		}
		placeholder(img, "no product left to associate")
	}
	return out, warnings
}

// nearestProduct returns the untaken product whose row is closest to row,
// within tolerance. Ties prefer the product above the anchor.
func nearestProduct(products []catalog.ProductRecord, taken []bool, row, tolerance int) int {
	best, bestDist := -1, tolerance+1
	for i, p := range products {
		if taken[i] {
			continue
		}
		d := p.RowIndex - row
		if d < 0 {
			d = -d
		}
		if d < bestDist || (d == bestDist && best >= 0 && p.RowIndex < products[best].RowIndex) {
			best, bestDist = i, d
		}
	}
	return best
}

func filenameMatch(products []catalog.ProductRecord, taken []bool, containerPath string) int {
	base := sheet.Fold(strings.TrimSuffix(path.Base(containerPath), path.Ext(containerPath)))
	if base == "" {
		return -1
	}
	for i, p := range products {
		if taken[i] {
			continue
		}
		for _, key := range []string{p.Code, p.Name} {
			k := sheet.Fold(key)
			if len(k) >= 2 && strings.Contains(base, k) {
				return i
			}
		}
	}
	return -1
}

// PlaceholderID is the stable identifier of an image no product claimed.
func PlaceholderID(img catalog.ImageAsset) string {
	h := img.ContentHash
	if len(h) > 12 {
		h = h[:12]
	}
	return fmt.Sprintf("unassigned-%d-%s", img.Index, h)
}
