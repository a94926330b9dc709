package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/layout"
	"github.com/Kurai777/Alda-oficial-sub004/internal/media"
	"github.com/Kurai777/Alda-oficial-sub004/internal/pipeline"
	"github.com/Kurai777/Alda-oficial-sub004/internal/price"
	"github.com/Kurai777/Alda-oficial-sub004/internal/sheet"
	"github.com/Kurai777/Alda-oficial-sub004/internal/source"
)

func newIngestCmd() *cobra.Command {
	var (
		catalogID    string
		manufacturer string
		category     string
	)
	cmd := &cobra.Command{
		Use:   "ingest <path|url>...",
		Short: "Ingest one or more catalogs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if catalogID != "" && len(args) > 1 {
				return errors.New("--catalog-id applies to a single source")
			}
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			p, closeFn, err := buildPipeline(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			jobs := make([]pipeline.Job, len(args))
			for i, src := range args {
				id := catalogID
				if id == "" {
					id = uuid.NewString()
				}
				jobs[i] = pipeline.Job{CatalogID: id, Source: src, Manufacturer: manufacturer, Category: category}
			}

			outs := p.IngestMany(cmd.Context(), jobs)
			if jsonOutput {
				if err := printJSON(outs); err != nil {
					return err
				}
			} else {
				for _, o := range outs {
					printSummary(o)
				}
			}
			for _, o := range outs {
				if o.Err != nil {
					return fmt.Errorf("%d of %d catalogs failed", countFailed(outs), len(outs))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogID, "catalog-id", "", "Catalog id (default: generated)")
	cmd.Flags().StringVar(&manufacturer, "manufacturer", "", "Manufacturer applied to products without one")
	cmd.Flags().StringVar(&category, "category", "", "Category applied to products without one")
	return cmd
}

func printSummary(o pipeline.BatchOutcome) {
	r := o.Result
	fmt.Printf("%s  %s  %s\n", r.CatalogID, r.Status, o.Job.Source)
	if o.Err != nil {
		fmt.Printf("  error: %v\n", o.Err)
		return
	}
	fmt.Printf("  products=%d images=%d warnings=%d degraded=%v took=%s\n",
		len(r.Products), len(r.Images), len(r.Warnings), r.Degraded, r.Duration.Round(time.Millisecond))
	for _, w := range r.Warnings {
		fmt.Printf("  - %s\n", w)
	}
}

func countFailed(outs []pipeline.BatchOutcome) int {
	n := 0
	for _, o := range outs {
		if o.Err != nil {
			n++
		}
	}
	return n
}

type inspection struct {
	Sheet   string               `json:"sheet"`
	Rows    int                  `json:"rows"`
	Mapping layout.Mapping       `json:"mapping"`
	Images  []catalog.ImageAsset `json:"images"`
	Sample  string               `json:"sample"`
}

func newInspectCmd() *cobra.Command {
	var rowsShown int
	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Show the detected column mapping and embedded images without calling any service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
				return err
			}
			dir, err := os.MkdirTemp(cfg.ScratchDir, "inspect-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)

			src, err := source.Fetch(cmd.Context(), args[0], source.Options{Dir: dir, MaxBytes: cfg.MaxFileBytes, Timeout: cfg.DownloadTimeout})
			if err != nil {
				return err
			}
			g, err := sheet.Load(src.Data)
			if err != nil {
				return err
			}
			images, err := media.Extract(src.Data, media.Options{MaxEntryBytes: cfg.MaxMediaEntryBytes, Logger: log})
			if err != nil {
				return err
			}

			m := layout.NewDetector(cfg.Heuristics).Detect(g)
			out := inspection{
				Sheet:   g.SheetName,
				Rows:    g.Len(),
				Mapping: m,
				Images:  images,
				Sample:  g.Sample(0, rowsShown),
			}
			if jsonOutput {
				return printJSON(out)
			}

			fmt.Printf("sheet %q, %d rows, mapping source=%s lowConfidence=%v\n", out.Sheet, out.Rows, m.Source, m.LowConfidence)
			fmt.Printf("header row %d, data from row %d\n", m.HeaderRow, m.DataStartRow)
			fmt.Printf("code=%d model=%d description=%d dimensions=%d category=%d\n", m.Code, m.Model, m.Description, m.Dimensions, m.Category)
			for _, pc := range m.Prices {
				sample := g.Cell(m.DataStartRow, pc.Index)
				if v, err := price.Normalize(sample); err == nil {
					sample = price.Format(v)
				}
				fmt.Printf("price column %d %q (first value %s)\n", pc.Index, pc.Header, sample)
			}
			for _, img := range images {
				fmt.Printf("image %d %s %s %dx%d rows=%v\n", img.Index, img.ContainerPath, img.MIMEType, img.Width, img.Height, img.AnchorRows)
			}
			fmt.Print(out.Sample)
			return nil
		},
	}
	cmd.Flags().IntVar(&rowsShown, "rows", 15, "Number of rows to print")
	return cmd
}

func newRepairCmd() *cobra.Command {
	var catalogID string
	cmd := &cobra.Command{
		Use:   "repair-images",
		Short: "Give every product of a persisted catalog its own image file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			p, closeFn, err := buildPipeline(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			outs, err := p.RepairImages(cmd.Context(), catalogID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(outs)
			}
			for _, o := range outs {
				fmt.Printf("%s  %s  %s\n", o.ProductID, o.Status, o.Ref)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogID, "catalog-id", "", "Catalog to repair")
	_ = cmd.MarkFlagRequired("catalog-id")
	return cmd
}
