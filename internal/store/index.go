package store

import (
	"context"
	"fmt"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/uniqueness"
)

var _ uniqueness.Index = (*SQL)(nil)

func (s *SQL) Product(ctx context.Context, productID string) (catalog.ProductRecord, error) {
	ps, err := s.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	if err != nil {
		return catalog.ProductRecord{}, err
	}
	if len(ps) == 0 {
		return catalog.ProductRecord{}, fmt.Errorf("%s: %w", productID, uniqueness.ErrUnknownProduct)
	}
	return ps[0], nil
}

func (s *SQL) Candidates(ctx context.Context, productID, hash string) ([]catalog.ProductRecord, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products
		WHERE id <> ? AND image_ref <> '' AND (image_hash = ? OR image_hash = '')
		ORDER BY catalog_id, position`, productID, hash)
}

func (s *SQL) SetImageHash(ctx context.Context, productID, hash string) error {
	return s.updateProduct(ctx, `UPDATE products SET image_hash = ? WHERE id = ?`, hash, productID)
}

func (s *SQL) SetImageRef(ctx context.Context, productID, ref, hash string) error {
	return s.updateProduct(ctx, `UPDATE products SET image_ref = ?, image_hash = ? WHERE id = ?`, ref, hash, productID)
}

func (s *SQL) CatalogImages(ctx context.Context, catalogID string) ([]catalog.ProductRecord, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products
		WHERE catalog_id = ? AND image_ref <> '' ORDER BY position`, catalogID)
}

func (s *SQL) updateProduct(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return uniqueness.ErrUnknownProduct
	}
	return nil
}
