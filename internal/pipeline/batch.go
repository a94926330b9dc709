package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// BatchOutcome is one job's result within IngestMany.
type BatchOutcome struct {
	Job    Job
	Result Result
	Err    error
}

// IngestMany runs jobs concurrently, at most MaxConcurrentCatalogs at a
// time. Outcomes are returned in job order. A catalog id appearing twice is
// refused for the later job since both runs would share scratch space.
func (p *Pipeline) IngestMany(ctx context.Context, jobs []Job) []BatchOutcome {
	limit := p.cfg.MaxConcurrentCatalogs
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)
	out := make([]BatchOutcome, len(jobs))
	seen := make(map[string]bool, len(jobs))

	var g errgroup.Group
	for i, job := range jobs {
		out[i].Job = job
		if seen[job.CatalogID] {
			out[i].Result = failed(Result{CatalogID: job.CatalogID})
			out[i].Err = fmt.Errorf("%w: %q submitted twice", ErrInvalidCatalogID, job.CatalogID)
			continue
		}
		seen[job.CatalogID] = true

		if err := sem.Acquire(ctx, 1); err != nil {
			out[i].Result = failed(Result{CatalogID: job.CatalogID})
			out[i].Err = err
			continue
		}
		i, job := i, job // per-iteration copy (go directive < 1.22)
		g.Go(func() error {
			defer sem.Release(1)
			res, err := p.Ingest(ctx, job)
			out[i] = BatchOutcome{Job: job, Result: res, Err: err}
			if err != nil {
				p.log.Warn("catalog failed", zap.String("catalog", job.CatalogID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
