package rows

import (
	"context"
	"strings"
)

// Heuristic is the in-process extraction rule. It is used when no service
// is configured and when the service becomes unavailable mid-run.
type Heuristic struct{}

func (Heuristic) ExtractRow(_ context.Context, rc Context) (*Extraction, error) {
	ext := &Extraction{
		Dimensions: rc.Dimensions,
		Code:       rc.Code,
		Category:   rc.Category,
	}

	model := strings.TrimSpace(rc.Model)
	desc := strings.TrimSpace(rc.Description)
	switch {
	case model != "":
		ext.ModelBase = model
		ext.Name = model
		ext.VariationDescription = desc
	case rc.LastModelBase != "":
		ext.ModelBase = rc.LastModelBase
		ext.VariationDescription = desc
		ext.Name = strings.TrimSpace(rc.LastModelBase + " " + desc)
	case desc != "":
		ext.ModelBase = leadingFragment(desc)
		ext.Name = desc
		if ext.ModelBase != desc {
			ext.VariationDescription = strings.TrimSpace(strings.TrimPrefix(desc, ext.ModelBase))
		}
	}

	for _, pc := range rc.PriceCells {
		if blank(pc.Value) {
			continue
		}
		ext.PriceVariations = append(ext.PriceVariations, PriceVariation{ClassName: pc.Header, Price: pc.Amount()})
	}
	return ext, nil
}

// leadingFragment is the part of a description before its first qualifier,
// e.g. "POLTRONA LUNA - PES PALITO" -> "POLTRONA LUNA".
func leadingFragment(desc string) string {
	cut := len(desc)
	for _, sep := range []string{" - ", ",", "(", " C/", " c/"} {
		if i := strings.Index(desc, sep); i > 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(desc[:cut])
}
