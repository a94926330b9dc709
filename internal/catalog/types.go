package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Fatal conditions. Everything else degrades into a Warning.
var (
	ErrMalformedContainer = errors.New("malformed container")
	ErrSourceDownload     = errors.New("source download failed")
)

// Image repair conditions. Both leave the prior reference untouched.
var (
	ErrImageNotFound = errors.New("image not found locally")
	ErrImageCopy     = errors.New("image copy failed")
)

type Status string

const (
	StatusProcessing           Status = "processing"
	StatusCompleted            Status = "completed"
	StatusCompletedWithWarning Status = "completed_with_warnings"
	StatusPartial              Status = "partial"
	StatusFailed               Status = "failed"
)

type WarningKind string

const (
	WarnHeaderNotDetected  WarningKind = "header_not_detected"
	WarnRowSkipped         WarningKind = "row_skipped"
	WarnRowParseFailure    WarningKind = "row_parse_failure"
	WarnServiceUnavailable WarningKind = "service_unavailable"
	WarnStructureFallback  WarningKind = "structure_fallback"
	WarnImageUnassigned    WarningKind = "image_unassigned"
	WarnImageNotFound      WarningKind = "image_not_found"
	WarnImageCopyFailure   WarningKind = "image_copy_failure"
)

// Warning is retained on the catalog for inspection and manual re-processing.
// Row is the zero-indexed grid row, or -1 when the warning is catalog-wide.
type Warning struct {
	Kind   WarningKind `json:"kind"`
	Row    int         `json:"row"`
	Detail string      `json:"detail"`
	Cells  []string    `json:"cells,omitempty"`
}

func (w Warning) String() string {
	if w.Row < 0 {
		return fmt.Sprintf("%s: %s", w.Kind, w.Detail)
	}
	return fmt.Sprintf("%s (row %d): %s", w.Kind, w.Row, w.Detail)
}

// ClassDefinition is an advisory legend entry, e.g. "CLASSE 01" -> {Cor: Azul}.
type ClassDefinition struct {
	ClassName  string            `json:"className"`
	Attributes map[string]string `json:"attributes"`
}

type PriceEntry struct {
	ClassName  string `json:"className"`
	ValueMinor int64  `json:"valueMinorUnits"`
}

// ProductRecord is one assembled catalog variant. After assembly only
// ImageRef and ImageHash may change, and only through image repair.
type ProductRecord struct {
	ID                   string       `json:"id"`
	CatalogID            string       `json:"catalogId"`
	RowIndex             int          `json:"rowIndex"`
	Code                 string       `json:"code"`
	Name                 string       `json:"name"`
	ModelBase            string       `json:"modelBase"`
	VariationDescription string       `json:"variationDescription,omitempty"`
	Dimensions           string       `json:"dimensions,omitempty"`
	Description          string       `json:"description,omitempty"`
	Category             string       `json:"category,omitempty"`
	Manufacturer         string       `json:"manufacturer,omitempty"`
	Prices               []PriceEntry `json:"prices"`
	ImageRef             string       `json:"imageRef,omitempty"`
	ImageHash            string       `json:"imageHash,omitempty"`
}

// ImageAsset is one raster image pulled out of a catalog container.
type ImageAsset struct {
	Index             int    `json:"index"`
	ContentHash       string `json:"contentHash"`
	ContainerPath     string `json:"originalContainerPath"`
	MIMEType          string `json:"mimeType"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	AnchorRows        []int  `json:"anchorRows,omitempty"`
	AssignedProductID string `json:"assignedProductId,omitempty"`
	Data              []byte `json:"-"`
}

// Ext returns the lowercase extension of the asset's container path.
func (a ImageAsset) Ext() string {
	i := strings.LastIndex(a.ContainerPath, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(a.ContainerPath[i:])
}

// ValidID reports whether id is usable as a catalog identifier. Catalog ids
// namespace scratch and storage directories, so separators and dot segments
// are refused.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 || id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
