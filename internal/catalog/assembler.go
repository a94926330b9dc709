package catalog

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// codeCounter is process-wide so two catalogs assembled in the same second
// never synthesize the same code.
var codeCounter atomic.Uint64

type AssembleOptions struct {
	CatalogID    string
	Manufacturer string
	Category     string
}

// Assembler turns extracted row fragments into final records.
type Assembler struct {
	now   func() time.Time
	newID func() string
}

func NewAssembler() *Assembler {
	return &Assembler{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Assemble fills ids, codes and names and applies catalog defaults. Input
// order is preserved; every output record has a non-empty unique Code and a
// non-empty Name.
func (a *Assembler) Assemble(fragments []ProductRecord, opts AssembleOptions) []ProductRecord {
	out := make([]ProductRecord, 0, len(fragments))
	seen := make(map[string]int, len(fragments))
	ts := a.now().Unix()

	for _, f := range fragments {
		rec := f
		rec.CatalogID = opts.CatalogID
		if rec.ID == "" {
			rec.ID = a.newID()
		}
		if strings.TrimSpace(rec.Manufacturer) == "" {
			rec.Manufacturer = opts.Manufacturer
		}
		if strings.TrimSpace(rec.Category) == "" {
			rec.Category = opts.Category
		}

		rec.Code = strings.TrimSpace(rec.Code)
		if rec.Code == "" {
			rec.Code = fmt.Sprintf("GEN-%d-%d-%d", codeCounter.Add(1), ts, rec.RowIndex)
		}
		rec.Code = uniqueCode(rec.Code, seen)

		rec.Name = strings.TrimSpace(rec.Name)
		if rec.Name == "" {
			rec.Name = SynthesizeName(rec)
		}
		out = append(out, rec)
	}
	return out
}

func uniqueCode(code string, seen map[string]int) string {
	key := strings.ToUpper(code)
	n, dup := seen[key]
	if !dup {
		seen[key] = 1
		return code
	}
	for {
		n++
		candidate := fmt.Sprintf("%s-%d", code, n)
		ckey := strings.ToUpper(candidate)
		if _, taken := seen[ckey]; !taken {
			seen[key] = n
			seen[ckey] = 1
			return candidate
		}
	}
}

// SynthesizeName builds a display name from whatever descriptive fragments a
// record carries, falling back to its code.
func SynthesizeName(rec ProductRecord) string {
	var parts []string
	for _, p := range []string{rec.ModelBase, rec.VariationDescription, rec.Dimensions} {
		p = strings.TrimSpace(p)
		if p != "" && !containsFold(parts, p) {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		if d := strings.TrimSpace(rec.Description); d != "" {
			parts = append(parts, d)
		}
	}
	if len(parts) == 0 {
		return "Produto " + rec.Code
	}
	return strings.Join(parts, " ")
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Batches splits records into chunks of at most size, preserving order.
func Batches(records []ProductRecord, size int) [][]ProductRecord {
	if size <= 0 {
		size = len(records)
	}
	var out [][]ProductRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}
