package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
)

// Catalog is the persisted catalog header.
type Catalog struct {
	ID           string                    `json:"id"`
	Status       catalog.Status            `json:"status"`
	Manufacturer string                    `json:"manufacturer,omitempty"`
	Category     string                    `json:"category,omitempty"`
	Source       string                    `json:"source,omitempty"`
	Mapping      json.RawMessage           `json:"mapping,omitempty"`
	Classes      []catalog.ClassDefinition `json:"classes,omitempty"`
	Warnings     []catalog.Warning         `json:"warnings,omitempty"`
	CreatedAt    time.Time                 `json:"createdAt"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

// Image is an extracted image together with the store key it was saved at.
type Image struct {
	Asset catalog.ImageAsset
	Key   string
}

const productColumns = `id, catalog_id, position, row_index, code, name, model_base, variation_description,
	dimensions, description, category, manufacturer, prices, image_ref, image_hash`

const productColumnCount = 15

// SaveCatalog writes the catalog header, its products and its images in one
// transaction, replacing any earlier ingestion of the same catalog. Products
// are inserted in batches of batchSize; positions follow the slice order.
func (s *SQL) SaveCatalog(ctx context.Context, c Catalog, products []catalog.ProductRecord, images []Image, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 200
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertCatalog(ctx, tx, c); err != nil {
		return err
	}
	for _, q := range []string{`DELETE FROM products WHERE catalog_id = ?`, `DELETE FROM catalog_images WHERE catalog_id = ?`} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), c.ID); err != nil {
			return fmt.Errorf("clear previous ingestion: %w", err)
		}
	}

	position := 0
	for _, batch := range catalog.Batches(products, batchSize) {
		args := make([]any, 0, len(batch)*productColumnCount)
		for _, p := range batch {
			prices, err := json.Marshal(nonNil(p.Prices))
			if err != nil {
				return fmt.Errorf("encode prices: %w", err)
			}
			args = append(args, p.ID, c.ID, position, p.RowIndex, p.Code, p.Name, p.ModelBase,
				p.VariationDescription, p.Dimensions, p.Description, p.Category, p.Manufacturer,
				string(prices), p.ImageRef, p.ImageHash)
			position++
		}
		q := `INSERT INTO products (` + productColumns + `) VALUES ` + placeholders(len(batch), productColumnCount)
		if _, err := tx.ExecContext(ctx, s.rebind(q), args...); err != nil {
			return fmt.Errorf("insert products: %w", err)
		}
	}

	for start := 0; start < len(images); start += batchSize {
		end := start + batchSize
		if end > len(images) {
			end = len(images)
		}
		args := make([]any, 0, (end-start)*9)
		for _, img := range images[start:end] {
			a := img.Asset
			args = append(args, c.ID, a.Index, a.ContentHash, a.ContainerPath, a.MIMEType, a.Width, a.Height, img.Key, a.AssignedProductID)
		}
		q := `INSERT INTO catalog_images (catalog_id, idx, content_hash, container_path, mime_type, width, height, store_key, assigned_product_id) VALUES ` +
			placeholders(end-start, 9)
		if _, err := tx.ExecContext(ctx, s.rebind(q), args...); err != nil {
			return fmt.Errorf("insert images: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQL) upsertCatalog(ctx context.Context, tx *sql.Tx, c Catalog) error {
	mapping := c.Mapping
	if len(mapping) == 0 {
		mapping = json.RawMessage("{}")
	}
	classes, err := json.Marshal(nonNil(c.Classes))
	if err != nil {
		return fmt.Errorf("encode classes: %w", err)
	}
	warnings, err := json.Marshal(nonNil(c.Warnings))
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	now := nowMillis()
	q := `INSERT INTO catalogs (id, status, manufacturer, category, source, mapping, classes, warnings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, manufacturer = excluded.manufacturer,
			category = excluded.category, source = excluded.source, mapping = excluded.mapping,
			classes = excluded.classes, warnings = excluded.warnings, updated_at = excluded.updated_at`
	_, err = tx.ExecContext(ctx, s.rebind(q), c.ID, string(c.Status), c.Manufacturer, c.Category, c.Source,
		string(mapping), string(classes), string(warnings), now, now)
	if err != nil {
		return fmt.Errorf("upsert catalog: %w", err)
	}
	return nil
}

// CreateCatalog records a catalog in processing state before ingestion
// starts, so a failed fetch still leaves a visible failed catalog.
func (s *SQL) CreateCatalog(ctx context.Context, c Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := s.upsertCatalog(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

// SetStatus updates a catalog's status and, when warnings is non-nil, its
// warning list.
func (s *SQL) SetStatus(ctx context.Context, id string, status catalog.Status, warnings []catalog.Warning) error {
	var (
		res sql.Result
		err error
	)
	if warnings == nil {
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE catalogs SET status = ?, updated_at = ? WHERE id = ?`),
			string(status), nowMillis(), id)
	} else {
		b, merr := json.Marshal(warnings)
		if merr != nil {
			return fmt.Errorf("encode warnings: %w", merr)
		}
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE catalogs SET status = ?, warnings = ?, updated_at = ? WHERE id = ?`),
			string(status), string(b), nowMillis(), id)
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog %s: %w", id, ErrNotFound)
	}
	return nil
}

// LoadCatalog returns a catalog header and its products in position order.
func (s *SQL) LoadCatalog(ctx context.Context, id string) (Catalog, []catalog.ProductRecord, error) {
	var (
		c                        Catalog
		status                   string
		mapping, classes, warns  string
		createdMillis, updMillis int64
	)
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, status, manufacturer, category, source, mapping, classes, warnings, created_at, updated_at
		FROM catalogs WHERE id = ?`), id)
	err := row.Scan(&c.ID, &status, &c.Manufacturer, &c.Category, &c.Source, &mapping, &classes, &warns, &createdMillis, &updMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return Catalog{}, nil, fmt.Errorf("catalog %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Catalog{}, nil, fmt.Errorf("load catalog: %w", err)
	}
	c.Status = catalog.Status(status)
	c.Mapping = json.RawMessage(mapping)
	c.CreatedAt = time.UnixMilli(createdMillis)
	c.UpdatedAt = time.UnixMilli(updMillis)
	if err := json.Unmarshal([]byte(classes), &c.Classes); err != nil {
		return Catalog{}, nil, fmt.Errorf("decode classes: %w", err)
	}
	if err := json.Unmarshal([]byte(warns), &c.Warnings); err != nil {
		return Catalog{}, nil, fmt.Errorf("decode warnings: %w", err)
	}

	products, err := s.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE catalog_id = ? ORDER BY position`, id)
	if err != nil {
		return Catalog{}, nil, err
	}
	return c, products, nil
}

// Images returns a catalog's stored image rows in extraction order.
func (s *SQL) Images(ctx context.Context, catalogID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT idx, content_hash, container_path, mime_type, width, height, store_key, assigned_product_id
		FROM catalog_images WHERE catalog_id = ? ORDER BY idx`), catalogID)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		var img Image
		a := &img.Asset
		if err := rows.Scan(&a.Index, &a.ContentHash, &a.ContainerPath, &a.MIMEType, &a.Width, &a.Height, &img.Key, &a.AssignedProductID); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (s *SQL) queryProducts(ctx context.Context, q string, args ...any) ([]catalog.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []catalog.ProductRecord
	for rows.Next() {
		var (
			p        catalog.ProductRecord
			position int
			prices   string
		)
		if err := rows.Scan(&p.ID, &p.CatalogID, &position, &p.RowIndex, &p.Code, &p.Name, &p.ModelBase,
			&p.VariationDescription, &p.Dimensions, &p.Description, &p.Category, &p.Manufacturer,
			&prices, &p.ImageRef, &p.ImageHash); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if err := json.Unmarshal([]byte(prices), &p.Prices); err != nil {
			return nil, fmt.Errorf("decode prices of %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func placeholders(rows, cols int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	parts := make([]string, rows)
	for i := range parts {
		parts[i] = one
	}
	return strings.Join(parts, ", ")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
