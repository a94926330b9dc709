package media

import (
	"encoding/xml"
	"slices"
	"sort"
	"strings"
)

type workbookXML struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type drawingXML struct {
	TwoCell []anchorXML `xml:"twoCellAnchor"`
	OneCell []anchorXML `xml:"oneCellAnchor"`
}

type anchorXML struct {
	From struct {
		Col int `xml:"col"`
		Row int `xml:"row"`
	} `xml:"from"`
	Pic struct {
		BlipFill struct {
			Blip struct {
				Embed string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships embed,attr"`
			} `xml:"blip"`
		} `xml:"blipFill"`
	} `xml:"pic"`
}

// firstSheetPart resolves the container path of the workbook's first sheet.
func (c *container) firstSheetPart() (string, bool) {
	b, ok := c.read("xl/workbook.xml")
	if !ok {
		return "", false
	}
	var wb workbookXML
	if err := xml.Unmarshal(b, &wb); err != nil || len(wb.Sheets) == 0 {
		return "", false
	}
	target, ok := c.rels("xl/workbook.xml")[wb.Sheets[0].RID]
	return target, ok
}

// anchorRows maps each media path to the zero-indexed rows of the first
// sheet it is drawn on. One media entry drawn twice yields two rows.
func (c *container) anchorRows() map[string][]int {
	sheetPart, ok := c.firstSheetPart()
	if !ok {
		return nil
	}

	out := map[string][]int{}
	sheetRels := c.rels(sheetPart)
	ids := make([]string, 0, len(sheetRels))
	for id := range sheetRels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		drawingPart := sheetRels[id]
		if !strings.HasPrefix(drawingPart, "xl/drawings/") || !strings.HasSuffix(drawingPart, ".xml") {
			continue
		}
		b, ok := c.read(drawingPart)
		if !ok {
			continue
		}
		var d drawingXML
		if err := xml.Unmarshal(b, &d); err != nil {
			continue
		}
		drawingRels := c.rels(drawingPart)
		for _, a := range append(d.TwoCell, d.OneCell...) {
			target, ok := drawingRels[a.Pic.BlipFill.Blip.Embed]
			if !ok {
				continue
			}
			out[target] = append(out[target], a.From.Row)
		}
	}

	for k := range out {
		sort.Ints(out[k])
		out[k] = slices.Compact(out[k])
	}
	return out
}
