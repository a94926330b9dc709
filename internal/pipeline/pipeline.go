// Package pipeline runs a catalog through acquisition, extraction, image
// handling and persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/config"
	"github.com/Kurai777/Alda-oficial-sub004/internal/imagestore"
	"github.com/Kurai777/Alda-oficial-sub004/internal/layout"
	"github.com/Kurai777/Alda-oficial-sub004/internal/media"
	"github.com/Kurai777/Alda-oficial-sub004/internal/rows"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
	"github.com/Kurai777/Alda-oficial-sub004/internal/source"
	"github.com/Kurai777/Alda-oficial-sub004/internal/store"
	"github.com/Kurai777/Alda-oficial-sub004/internal/structure"
	"github.com/Kurai777/Alda-oficial-sub004/internal/uniqueness"
)

var (
	ErrInvalidCatalogID = errors.New("invalid catalog id")
	ErrNoRepository     = errors.New("no catalog repository configured")
)

// Repository is the persistence the pipeline needs. *store.SQL satisfies it.
type Repository interface {
	uniqueness.Index
	CreateCatalog(ctx context.Context, c store.Catalog) error
	SaveCatalog(ctx context.Context, c store.Catalog, products []catalog.ProductRecord, images []store.Image, batchSize int) error
	SetStatus(ctx context.Context, id string, status catalog.Status, warnings []catalog.Warning) error
	LoadCatalog(ctx context.Context, id string) (store.Catalog, []catalog.ProductRecord, error)
}

var _ Repository = (*store.SQL)(nil)

// Deps are the pipeline's collaborators. Nil services run the heuristics
// only; a nil Repo keeps results in memory.
type Deps struct {
	Structure structure.Service
	Rows      rows.Service
	Images    imagestore.Store
	Repo      Repository
}

type Job struct {
	CatalogID    string `json:"catalogId"`
	Source       string `json:"source"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Category     string `json:"category,omitempty"`
}

type Result struct {
	CatalogID    string                    `json:"catalogId"`
	Status       catalog.Status            `json:"status"`
	Mapping      layout.Mapping            `json:"mapping"`
	Classes      []catalog.ClassDefinition `json:"classes,omitempty"`
	Products     []catalog.ProductRecord   `json:"products"`
	Images       []catalog.ImageAsset      `json:"images,omitempty"`
	Associations []media.Association       `json:"associations,omitempty"`
	Repairs      []uniqueness.Outcome      `json:"repairs,omitempty"`
	Warnings     []catalog.Warning         `json:"warnings,omitempty"`
	Degraded     bool                      `json:"degraded,omitempty"`
	Duration     time.Duration             `json:"durationNs"`
}

type Pipeline struct {
	cfg       config.Config
	analyzer  *structure.Analyzer
	extractor *rows.Extractor
	assembler *catalog.Assembler
	images    imagestore.Store
	repo      Repository
	log       *zap.Logger
}

func New(cfg config.Config, deps Deps, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	det := layout.NewDetector(cfg.Heuristics)
	images := deps.Images
	if images == nil {
		images = imagestore.NewLocal(cfg.ImageStoreDir, cfg.ImageBaseURL)
	}
	return &Pipeline{
		cfg: cfg,
		analyzer: structure.NewAnalyzer(deps.Structure, det, structure.Options{
			SampleRows:    cfg.StructureSampleRows,
			LegendRows:    cfg.LegendWindowRows,
			LegendMarkers: cfg.Heuristics.LegendMarkers,
		}, log),
		extractor: rows.NewExtractor(deps.Rows, cfg.Heuristics, cfg.RowCallInterval, log),
		assembler: catalog.NewAssembler(),
		images:    images,
		repo:      deps.Repo,
		log:       log.Named("pipeline"),
	}
}

// Ingest processes one catalog. The returned error is non-nil only for
// fatal conditions (unreadable source, malformed container, storage
// failure); the Result then carries StatusFailed. Cancellation is not an
// error: whatever was extracted is kept and the status is partial.
func (p *Pipeline) Ingest(ctx context.Context, job Job) (Result, error) {
	start := time.Now()
	res := Result{CatalogID: job.CatalogID, Status: catalog.StatusProcessing}
	if !catalog.ValidID(job.CatalogID) {
		return failed(res), fmt.Errorf("%w: %q", ErrInvalidCatalogID, job.CatalogID)
	}
	log := p.log.With(zap.String("catalog", job.CatalogID))
	// Persistence and status updates must land even when the caller has
	// given up on the run.
	persistCtx := context.WithoutCancel(ctx)

	header := store.Catalog{
		ID:           job.CatalogID,
		Status:       catalog.StatusProcessing,
		Manufacturer: job.Manufacturer,
		Category:     job.Category,
		Source:       job.Source,
	}
	if p.repo != nil {
		if err := p.repo.CreateCatalog(persistCtx, header); err != nil {
			return failed(res), fmt.Errorf("create catalog: %w", err)
		}
	}
	fail := func(err error) (Result, error) {
		log.Error("ingestion failed", zap.Error(err))
		if p.repo != nil {
			if serr := p.repo.SetStatus(persistCtx, job.CatalogID, catalog.StatusFailed, nil); serr != nil {
				log.Warn("could not record failed status", zap.Error(serr))
			}
		}
		res.Duration = time.Since(start)
		return failed(res), err
	}

	scratch, err := media.ScratchDir(p.cfg.ScratchDir, job.CatalogID)
	if err != nil {
		return fail(err)
	}
	src, err := source.Fetch(ctx, job.Source, source.Options{
		Dir:      filepath.Join(scratch, "source"),
		MaxBytes: p.cfg.MaxFileBytes,
		Timeout:  p.cfg.DownloadTimeout,
	})
	if err != nil {
		return fail(err)
	}
	defer os.RemoveAll(filepath.Join(scratch, "source"))
	log.Info("source acquired", zap.String("name", src.Name), zap.Int64("bytes", src.Size), zap.String("mime", src.MIMEType))

	grid, err := sheet.Load(src.Data)
	if err != nil {
		return fail(err)
	}

	var (
		sr         structure.Result
		rr         rows.Result
		images     []catalog.ImageAsset
		scratchErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sr = p.analyzer.Analyze(gctx, grid)
		rr = p.extractor.Run(gctx, grid, sr.Mapping)
		return nil
	})
	g.Go(func() error {
		var err error
		images, err = media.Extract(src.Data, media.Options{MaxEntryBytes: p.cfg.MaxMediaEntryBytes, Logger: log})
		if err != nil {
			return err
		}
		paths, err := media.WriteScratch(p.cfg.ScratchDir, job.CatalogID, images)
		if err != nil {
			scratchErr = err
			return nil
		}
		log.Debug("images written to scratch", zap.Int("count", len(paths)))
		return nil
	})
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	res.Mapping = sr.Mapping
	res.Classes = sr.Classes
	res.Degraded = rr.Degraded
	res.Warnings = append(append(res.Warnings, sr.Warnings...), rr.Warnings...)
	if scratchErr != nil {
		log.Warn("could not write scratch images", zap.Error(scratchErr))
		res.Warnings = append(res.Warnings, catalog.Warning{
			Kind: catalog.WarnImageCopyFailure, Row: -1,
			Detail: "scratch: " + scratchErr.Error(),
		})
	}

	products := p.assembler.Assemble(rr.Records, catalog.AssembleOptions{
		CatalogID:    job.CatalogID,
		Manufacturer: job.Manufacturer,
		Category:     job.Category,
	})
	assocs, warns := media.Associate(images, products, p.cfg.Heuristics.AnchorTolerance)
	res.Warnings = append(res.Warnings, warns...)

	stored, warns := p.storeImages(persistCtx, job.CatalogID, images, assocs, products)
	res.Warnings = append(res.Warnings, warns...)

	var index uniqueness.Index
	if p.repo != nil {
		if header.Mapping, err = json.Marshal(sr.Mapping); err != nil {
			return fail(fmt.Errorf("encode mapping: %w", err))
		}
		header.Classes = sr.Classes
		if err := p.repo.SaveCatalog(persistCtx, header, products, stored, p.cfg.PersistBatchSize); err != nil {
			return fail(err)
		}
		index = p.repo
	} else {
		mem := uniqueness.NewMemoryIndex()
		mem.Put(products...)
		index = mem
	}

	partial := rr.Partial || ctx.Err() != nil
	if p.cfg.EagerImageRepair && !partial {
		outs, warns, err := p.resolver(index, scratch).RepairCatalog(ctx, job.CatalogID)
		if err != nil {
			return fail(fmt.Errorf("image repair: %w", err))
		}
		res.Repairs = outs
		res.Warnings = append(res.Warnings, warns...)
		refreshRefs(products, outs)
	}

	res.Products = products
	res.Images = images
	res.Associations = assocs
	res.Status = statusFor(partial, res.Warnings)
	res.Duration = time.Since(start)

	if p.repo != nil {
		if err := p.repo.SetStatus(persistCtx, job.CatalogID, res.Status, nonNilWarnings(res.Warnings)); err != nil {
			return fail(err)
		}
	}
	log.Info("ingestion finished",
		zap.String("status", string(res.Status)),
		zap.Int("products", len(products)),
		zap.Int("images", len(images)),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("took", res.Duration))
	return res, nil
}

// storeImages saves every extracted image under a content-addressed key in
// the catalog's namespace and points associated products at it. Identical
// images share one key here; making references exclusive is the resolver's
// job.
func (p *Pipeline) storeImages(ctx context.Context, catalogID string, images []catalog.ImageAsset, assocs []media.Association, products []catalog.ProductRecord) ([]store.Image, []catalog.Warning) {
	byID := make(map[string]int, len(products))
	for i, pr := range products {
		byID[pr.ID] = i
	}
	urls := make(map[int]string, len(images))

	var (
		out      []store.Image
		warnings []catalog.Warning
	)
	for _, img := range images {
		key := ImageKey(catalogID, img)
		url, err := p.images.Save(ctx, key, img.Data)
		if err != nil {
			p.log.Warn("could not store image", zap.String("catalog", catalogID), zap.String("key", key), zap.Error(err))
			warnings = append(warnings, catalog.Warning{
				Kind: catalog.WarnImageCopyFailure, Row: -1,
				Detail: fmt.Sprintf("%s: %v", img.ContainerPath, err),
			})
			continue
		}
		urls[img.Index] = url
		out = append(out, store.Image{Asset: img, Key: key})
	}

	for _, a := range assocs {
		url, ok := urls[a.ImageIndex]
		if !ok || a.ProductID == "" {
			continue
		}
		i := byID[a.ProductID]
		products[i].ImageRef = url
		products[i].ImageHash = images[indexOf(images, a.ImageIndex)].ContentHash
	}
	return out, warnings
}

// ImageKey is the store key of an extracted image: the catalog id, then its
// media.StoreName. Scratch copies carry the same base name, which lets the
// resolver restore a missing key from scratch.
func ImageKey(catalogID string, img catalog.ImageAsset) string {
	return catalogID + "/" + media.StoreName(img)
}

func indexOf(images []catalog.ImageAsset, idx int) int {
	for i, img := range images {
		if img.Index == idx {
			return i
		}
	}
	return -1
}

func (p *Pipeline) resolver(index uniqueness.Index, scratch string) *uniqueness.Resolver {
	return uniqueness.NewResolver(p.images, index, uniqueness.Options{
		SearchDirs: []string{filepath.Join(scratch, "media"), p.cfg.ScratchDir},
		Logger:     p.log,
	})
}

// RepairImages makes every image reference of a persisted catalog exclusive
// and folds any new warnings into the catalog.
func (p *Pipeline) RepairImages(ctx context.Context, catalogID string) ([]uniqueness.Outcome, error) {
	if p.repo == nil {
		return nil, ErrNoRepository
	}
	if !catalog.ValidID(catalogID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCatalogID, catalogID)
	}
	c, _, err := p.repo.LoadCatalog(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	scratch, _ := media.ScratchDir(p.cfg.ScratchDir, catalogID)
	outs, warns, err := p.resolver(p.repo, scratch).RepairCatalog(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	if len(warns) > 0 {
		status := c.Status
		if status == catalog.StatusCompleted {
			status = catalog.StatusCompletedWithWarning
		}
		if err := p.repo.SetStatus(context.WithoutCancel(ctx), catalogID, status, append(c.Warnings, warns...)); err != nil {
			return outs, err
		}
	}
	return outs, nil
}

// ResolveImage makes one persisted product's image exclusive on demand and
// returns its resolved reference. Readers call it before serving an image.
func (p *Pipeline) ResolveImage(ctx context.Context, productID string) (uniqueness.Outcome, error) {
	if p.repo == nil {
		return uniqueness.Outcome{ProductID: productID}, ErrNoRepository
	}
	pr, err := p.repo.Product(ctx, productID)
	if err != nil {
		return uniqueness.Outcome{ProductID: productID}, err
	}
	scratch, _ := media.ScratchDir(p.cfg.ScratchDir, pr.CatalogID)
	return p.resolver(p.repo, scratch).Resolve(ctx, productID)
}

// ImageRefs maps each product id to its image reference. Products without an
// image are omitted.
func (r Result) ImageRefs() map[string]string {
	out := make(map[string]string, len(r.Products))
	for _, p := range r.Products {
		if p.ImageRef != "" {
			out[p.ID] = p.ImageRef
		}
	}
	return out
}

func refreshRefs(products []catalog.ProductRecord, outs []uniqueness.Outcome) {
	for _, o := range outs {
		if !o.Copied {
			continue
		}
		for i := range products {
			if products[i].ID == o.ProductID {
				products[i].ImageRef = o.Ref
				break
			}
		}
	}
}

func statusFor(partial bool, warnings []catalog.Warning) catalog.Status {
	switch {
	case partial:
		return catalog.StatusPartial
	case len(warnings) > 0:
		return catalog.StatusCompletedWithWarning
	default:
		return catalog.StatusCompleted
	}
}

func failed(r Result) Result {
	r.Status = catalog.StatusFailed
	return r
}

func nonNilWarnings(w []catalog.Warning) []catalog.Warning {
	if w == nil {
		return []catalog.Warning{}
	}
	return w
}
