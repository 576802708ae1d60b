package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cardscope/card-pipeline/internal/fetcher"
	"github.com/cardscope/card-pipeline/internal/issuer"
	"github.com/cardscope/card-pipeline/internal/pipeline"
	"github.com/cardscope/card-pipeline/internal/store"
	"github.com/cardscope/card-pipeline/pkg/anthropic"
)

// pipelineEnv holds the initialized store, adapters and pipeline stages
// shared by the scrape/process/run/serve commands.
type pipelineEnv struct {
	Store     store.Store
	Registry  *issuer.Registry
	Batch     *fetcher.Batch
	Processor *pipeline.Processor
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured store backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv sets up the store, issuer registry, fetcher and extraction
// pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	configured, err := issuer.LoadConfig(cfg.Issuers.ConfigPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load issuer config")
	}
	registry := issuer.NewRegistry(configured...)

	httpFetcher := fetcher.NewHTTP(fetcher.Options{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Fetch.MaxRetries,
		MinDelay:          time.Duration(cfg.Fetch.MinDelayMs) * time.Millisecond,
		BackoffMultiplier: cfg.Fetch.BackoffMultiplier,
	})

	extractor := pipeline.NewExtractor(anthropic.NewClient(cfg.Anthropic.Key), pipeline.ExtractorOptions{
		Model:          cfg.Anthropic.Model,
		MaxTokens:      cfg.Anthropic.MaxTokens,
		Temperature:    cfg.Anthropic.Temperature,
		MaxRetries:     cfg.Extract.MaxRetries,
		Timeout:        time.Duration(cfg.Extract.TimeoutSecs) * time.Second,
		ChunkCharLimit: cfg.Extract.ChunkCharLimit,
	})

	validator := &pipeline.Validator{
		ReviewThreshold: cfg.Validate.ReviewThreshold,
		RateDivergence:  cfg.Validate.RateDivergence,
	}

	processor := pipeline.NewProcessor(st, extractor, validator)
	if cfg.Extract.MaxConcurrent > 0 {
		processor.MaxConcurrent = cfg.Extract.MaxConcurrent
	}

	return &pipelineEnv{
		Store:     st,
		Registry:  registry,
		Batch:     fetcher.NewBatch(httpFetcher, st),
		Processor: processor,
	}, nil
}

// selectAdapters resolves command arguments to issuer adapters; no
// arguments means every registered issuer.
func selectAdapters(registry *issuer.Registry, args []string) ([]issuer.Adapter, error) {
	if len(args) == 0 {
		return registry.All(), nil
	}
	adapters := make([]issuer.Adapter, 0, len(args))
	for _, name := range args {
		a, err := registry.Get(name)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
