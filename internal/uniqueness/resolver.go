// Package uniqueness guarantees that no two products resolve to the same
// physical image file.
package uniqueness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/imagestore"
	"github.com/Kurai777/Alda-oficial-sub004/internal/media"
)

const derivedKeyLen = 16

type Status string

const (
	StatusNoImage    Status = "no_image"
	StatusExclusive  Status = "exclusive"
	StatusRepaired   Status = "repaired"
	StatusNotFound   Status = "not_found"
	StatusCopyFailed Status = "copy_failed"
)

// Outcome reports what Resolve did for one product. Ref is the product's
// reference after the call.
type Outcome struct {
	ProductID string `json:"productId"`
	Status    Status `json:"status"`
	Key       string `json:"key,omitempty"`
	Ref       string `json:"ref,omitempty"`
	Sharing   int    `json:"sharing,omitempty"`
	Copied    bool   `json:"copied"`
}

type Options struct {
	// SearchDirs are scanned for a file with the reference's name when the
	// referenced key is missing from the store.
	SearchDirs  []string
	SearchDepth int
	Logger      *zap.Logger
}

type Resolver struct {
	store imagestore.Store
	index Index
	opts  Options
	now   func() time.Time
	log   *zap.Logger
}

func NewResolver(store imagestore.Store, index Index, opts Options) *Resolver {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, index: index, opts: opts, now: time.Now, log: log.Named("uniqueness")}
}

// Resolve makes productID's image exclusive. When other products resolve to
// the same stored file, the bytes are copied to a key derived from the
// product and only this product's reference is rewritten. Re-running on an
// exclusive image changes nothing. Missing files yield catalog.ErrImageNotFound
// and failed copies catalog.ErrImageCopy; in both cases the reference is left
// as it was.
func (r *Resolver) Resolve(ctx context.Context, productID string) (Outcome, error) {
	p, err := r.index.Product(ctx, productID)
	if err != nil {
		return Outcome{ProductID: productID}, err
	}
	out := Outcome{ProductID: productID, Ref: p.ImageRef}
	if p.ImageRef == "" {
		out.Status = StatusNoImage
		return out, nil
	}

	key, data, err := r.load(ctx, p.ImageRef)
	if err != nil {
		out.Status = StatusNotFound
		return out, err
	}
	out.Key = key

	hash := media.HashBytes(data)
	if p.ImageHash != hash {
		if err := r.index.SetImageHash(ctx, productID, hash); err != nil {
			return out, fmt.Errorf("record image hash: %w", err)
		}
	}

	sharing, err := r.sharing(ctx, productID, key, hash)
	if err != nil {
		return out, err
	}
	out.Sharing = sharing
	if sharing <= 1 {
		out.Status = StatusExclusive
		return out, nil
	}

	newKey := r.derivedKey(p, key)
	url, err := r.store.Save(ctx, newKey, data)
	if err != nil {
		out.Status = StatusCopyFailed
		return out, fmt.Errorf("%w: %s -> %s: %v", catalog.ErrImageCopy, key, newKey, err)
	}
	if err := r.index.SetImageRef(ctx, productID, url, hash); err != nil {
		out.Status = StatusCopyFailed
		return out, fmt.Errorf("%w: rewrite reference: %v", catalog.ErrImageCopy, err)
	}

	r.log.Info("image made exclusive",
		zap.String("product", productID),
		zap.String("from", key),
		zap.String("to", newKey),
		zap.Int("sharing", sharing))
	out.Status = StatusRepaired
	out.Key = newKey
	out.Ref = url
	out.Copied = true
	return out, nil
}

// load returns the store key and bytes behind ref. A key missing from the
// store is looked up by file name in the search directories and, when found,
// restored under its key.
func (r *Resolver) load(ctx context.Context, ref string) (string, []byte, error) {
	key, ok := r.store.Resolve(ref)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s is not a store reference", catalog.ErrImageNotFound, ref)
	}
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", catalog.ErrImageNotFound, key, err)
	}
	if exists {
		data, err := r.store.Read(ctx, key)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s: %v", catalog.ErrImageNotFound, key, err)
		}
		return key, data, nil
	}

	found, ok := imagestore.Locate(key, r.opts.SearchDirs, r.opts.SearchDepth)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", catalog.ErrImageNotFound, key)
	}
	data, err := os.ReadFile(found)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", catalog.ErrImageNotFound, found, err)
	}
	if _, err := r.store.Save(ctx, key, data); err != nil {
		return "", nil, fmt.Errorf("%w: restore %s: %v", catalog.ErrImageCopy, key, err)
	}
	r.log.Info("restored missing image from search path", zap.String("key", key), zap.String("found", found))
	return key, data, nil
}

// sharing counts the products, this one included, whose reference resolves
// to key. Unhashed candidates that turn out to share the file get the hash
// recorded on the way.
func (r *Resolver) sharing(ctx context.Context, productID, key, hash string) (int, error) {
	cands, err := r.index.Candidates(ctx, productID, hash)
	if err != nil {
		return 0, fmt.Errorf("list candidates: %w", err)
	}
	n := 1
	for _, c := range cands {
		ck, ok := r.store.Resolve(c.ImageRef)
		if !ok || ck != key {
			continue
		}
		n++
		if c.ImageHash == "" {
			if err := r.index.SetImageHash(ctx, c.ID, hash); err != nil {
				r.log.Warn("could not record candidate hash", zap.String("product", c.ID), zap.Error(err))
			}
		}
	}
	return n, nil
}

// derivedKey is hash(productID, code, name, timestamp), truncated, in the
// directory of the original key with its extension.
func (r *Resolver) derivedKey(p catalog.ProductRecord, key string) string {
	seed := strings.Join([]string{p.ID, p.Code, p.Name, strconv.FormatInt(r.now().UnixNano(), 10)}, "|")
	sum := sha256.Sum256([]byte(seed))
	name := hex.EncodeToString(sum[:])[:derivedKeyLen] + strings.ToLower(path.Ext(key))
	if dir := path.Dir(key); dir != "." {
		return dir + "/" + name
	}
	return name
}

// ResolveAll resolves each product in order. Per-product failures become
// warnings; only cancellation stops the pass early.
func (r *Resolver) ResolveAll(ctx context.Context, productIDs []string) ([]Outcome, []catalog.Warning) {
	var (
		outs     []Outcome
		warnings []catalog.Warning
	)
	for _, id := range productIDs {
		if ctx.Err() != nil {
			break
		}
		o, err := r.Resolve(ctx, id)
		outs = append(outs, o)
		if err == nil {
			continue
		}
		kind := catalog.WarnImageCopyFailure
		if errors.Is(err, catalog.ErrImageNotFound) {
			kind = catalog.WarnImageNotFound
		}
		r.log.Warn("image resolution failed", zap.String("product", id), zap.Error(err))
		warnings = append(warnings, catalog.Warning{Kind: kind, Row: -1, Detail: id + ": " + err.Error()})
	}
	return outs, warnings
}

// RepairCatalog resolves every product of a catalog that has an image.
func (r *Resolver) RepairCatalog(ctx context.Context, catalogID string) ([]Outcome, []catalog.Warning, error) {
	products, err := r.index.CatalogImages(ctx, catalogID)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	outs, warnings := r.ResolveAll(ctx, ids)
	return outs, warnings, nil
}
