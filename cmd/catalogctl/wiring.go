package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kurai777/Alda-oficial-sub004/internal/config"
	"github.com/Kurai777/Alda-oficial-sub004/internal/imagestore"
	"github.com/Kurai777/Alda-oficial-sub004/internal/llm"
	"github.com/Kurai777/Alda-oficial-sub004/internal/pipeline"
	"github.com/Kurai777/Alda-oficial-sub004/internal/rows"
	"github.com/Kurai777/Alda-oficial-sub004/internal/store"
	"github.com/Kurai777/Alda-oficial-sub004/internal/structure"
)

// buildPipeline wires the pipeline from configuration. The returned close
// function releases the database.
func buildPipeline(ctx context.Context, cfg config.Config, log *zap.Logger) (*pipeline.Pipeline, func(), error) {
	deps := pipeline.Deps{
		Images: imagestore.NewLocal(cfg.ImageStoreDir, cfg.ImageBaseURL),
	}

	client := llm.New(llm.Options{
		APIKey:     cfg.LLMAPIKey,
		BaseURL:    cfg.LLMBaseURL,
		Model:      cfg.LLMModel,
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
		Logger:     log,
	})
	if client.Configured() {
		deps.Structure = structure.NewLLMService(client)
		deps.Rows = rows.NewLLMService(client)
	} else {
		log.Warn("LLM_API_KEY not set, extraction runs on heuristics only")
	}

	closeFn := func() {}
	if cfg.DatabaseDriver != "none" {
		db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		deps.Repo = db
		closeFn = func() {
			if err := db.Close(); err != nil {
				log.Warn("close database", zap.Error(err))
			}
		}
	}
	return pipeline.New(cfg, deps, log), closeFn, nil
}
