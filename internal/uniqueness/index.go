package uniqueness

import (
	"context"
	"errors"
	"sync"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
)

var ErrUnknownProduct = errors.New("unknown product")

// Index is the product-to-image reference table the resolver works on.
// Content hashes are its lookup key; references are foreign keys into the
// image store.
type Index interface {
	Product(ctx context.Context, productID string) (catalog.ProductRecord, error)
	// Candidates returns the other products with an image reference whose
	// recorded hash equals hash or that have not been hashed yet.
	Candidates(ctx context.Context, productID, hash string) ([]catalog.ProductRecord, error)
	SetImageHash(ctx context.Context, productID, hash string) error
	SetImageRef(ctx context.Context, productID, ref, hash string) error
	// CatalogImages returns a catalog's products that carry an image
	// reference, in catalog order.
	CatalogImages(ctx context.Context, catalogID string) ([]catalog.ProductRecord, error)
}

// MemoryIndex is an in-process Index, used when no database is configured.
type MemoryIndex struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]catalog.ProductRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byID: map[string]catalog.ProductRecord{}}
}

// Put adds or replaces products, keeping first-seen order.
func (m *MemoryIndex) Put(records ...catalog.ProductRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.byID[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		m.byID[r.ID] = r
	}
}

func (m *MemoryIndex) Product(_ context.Context, productID string) (catalog.ProductRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[productID]
	if !ok {
		return catalog.ProductRecord{}, ErrUnknownProduct
	}
	return r, nil
}

func (m *MemoryIndex) Candidates(_ context.Context, productID, hash string) ([]catalog.ProductRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []catalog.ProductRecord
	for _, id := range m.order {
		r := m.byID[id]
		if id == productID || r.ImageRef == "" {
			continue
		}
		if r.ImageHash == hash || r.ImageHash == "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryIndex) SetImageHash(_ context.Context, productID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[productID]
	if !ok {
		return ErrUnknownProduct
	}
	r.ImageHash = hash
	m.byID[productID] = r
	return nil
}

func (m *MemoryIndex) SetImageRef(_ context.Context, productID, ref, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[productID]
	if !ok {
		return ErrUnknownProduct
	}
	r.ImageRef = ref
	r.ImageHash = hash
	m.byID[productID] = r
	return nil
}

func (m *MemoryIndex) CatalogImages(_ context.Context, catalogID string) ([]catalog.ProductRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []catalog.ProductRecord
	for _, id := range m.order {
		r := m.byID[id]
		if r.CatalogID == catalogID && r.ImageRef != "" {
			out = append(out, r)
		}
	}
	return out, nil
}
