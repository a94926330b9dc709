package media

import (
	"testing"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
)

func products(rows ...int) []catalog.ProductRecord {
	out := make([]catalog.ProductRecord, len(rows))
	for i, r := range rows {
		out[i] = catalog.ProductRecord{ID: string(rune('a' + i)), RowIndex: r, Code: "C" + string(rune('A'+i)), Name: "Produto"}
	}
	return out
}

func TestAssociateAnchoredNearestRow(t *testing.T) {
	ps := products(1, 2, 5)
	images := []catalog.ImageAsset{
		{Index: 0, ContentHash: "h0", AnchorRows: []int{2}},
		{Index: 1, ContentHash: "h1", AnchorRows: []int{6}},
		{Index: 2, ContentHash: "h2", AnchorRows: []int{40}},
	}
	assoc, warns := Associate(images, ps, 2)

	if len(assoc) != 3 {
		t.Fatalf("unexpected associations %+v", assoc)
	}
	if assoc[0].ProductID != "b" || assoc[1].ProductID != "c" || assoc[0].Method != MethodAnchor {
		t.Fatalf("unexpected anchored associations %+v", assoc)
	}
	if assoc[2].Method != MethodPlaceholder || assoc[2].Placeholder == "" || len(warns) != 1 {
		t.Fatalf("far anchor should become a placeholder: %+v %v", assoc[2], warns)
	}
	if images[0].AssignedProductID != "b" {
		t.Fatalf("expected image 0 assigned to b, got %q", images[0].AssignedProductID)
	}
}

func TestAssociateOneImageAnchoredOnTwoRows(t *testing.T) {
	ps := products(1, 2)
	images := []catalog.ImageAsset{{Index: 0, ContentHash: "same", AnchorRows: []int{1, 2}}}
	assoc, _ := Associate(images, ps, 0)
	if len(assoc) != 2 || assoc[0].ProductID != "a" || assoc[1].ProductID != "b" {
		t.Fatalf("expected both products to reference the image: %+v", assoc)
	}
}

func TestAssociateUnanchoredPriority(t *testing.T) {
	ps := products(1, 2, 3)
	ps[0].Code = "SOFA-9"
	images := []catalog.ImageAsset{
		{Index: 0, ContentHash: "h0", AnchorRows: []int{3}},
		{Index: 1, ContentHash: "h1", ContainerPath: "xl/media/image1.png"},
		{Index: 2, ContentHash: "h2", ContainerPath: "xl/media/foto_sofa-9.png"},
		{Index: 3, ContentHash: "h3", ContainerPath: "xl/media/image3.png"},
	}
	assoc, warns := Associate(images, ps, 0)

	got := map[int]Association{}
	for _, a := range assoc {
		got[a.ImageIndex] = a
	}
	if got[1].Method != MethodPosition || got[1].ProductID != "b" {
		t.Fatalf("image 1 should take product b by position, got %+v", got[1])
	}
	if got[0].ProductID != "c" {
		t.Fatalf("image 0 should follow its anchor to c, got %+v", got[0])
	}
	if got[2].Method != MethodFilename || got[2].ProductID != "a" {
		t.Fatalf("image 2 should match SOFA-9 by file name, got %+v", got[2])
	}
	if got[3].Method != MethodPlaceholder || len(warns) != 1 {
		t.Fatalf("image 3 should be a placeholder, got %+v", got[3])
	}
}

func TestAssociateNoProducts(t *testing.T) {
	images := []catalog.ImageAsset{{Index: 0, ContentHash: "abcdefabcdefabcdef"}}
	assoc, warns := Associate(images, nil, 2)
	if len(assoc) != 1 || assoc[0].Placeholder != "unassigned-0-abcdefabcdef" || len(warns) != 1 {
		t.Fatalf("unexpected %+v %v", assoc, warns)
	}
}
