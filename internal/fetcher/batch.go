package fetcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cardscope/card-pipeline/internal/issuer"
	"github.com/cardscope/card-pipeline/internal/model"
	"github.com/cardscope/card-pipeline/internal/resilience"
	"github.com/cardscope/card-pipeline/internal/store"
)

// Batch runs the fetch phase: URL discovery per adapter, page download, text
// reduction and raw-corpus writes. One URL failing never aborts the batch;
// context cancellation does.
type Batch struct {
	fetcher *HTTPFetcher
	store   store.Store
}

func NewBatch(f *HTTPFetcher, st store.Store) *Batch {
	return &Batch{fetcher: f, store: st}
}

// FetchIssuer fetches every card page for one adapter plus any seed URLs.
// URLs for one issuer share a host, so they run sequentially under the
// host's rate limiter.
func (b *Batch) FetchIssuer(ctx context.Context, adapter issuer.Adapter, seedURLs []string) ([]model.FetchOutcome, error) {
	urls, err := adapter.CardURLs(ctx, b.fetcher)
	if err != nil {
		return nil, err
	}
	urls = appendNew(urls, seedURLs)

	zap.L().Info("fetching issuer card pages",
		zap.String("issuer", adapter.Name()),
		zap.Int("urls", len(urls)))

	outcomes := make([]model.FetchOutcome, 0, len(urls))
	for _, u := range urls {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		outcomes = append(outcomes, b.fetchOne(ctx, adapter, u))
	}
	return outcomes, nil
}

func (b *Batch) fetchOne(ctx context.Context, adapter issuer.Adapter, url string) model.FetchOutcome {
	body, status, err := b.fetcher.Fetch(ctx, url)
	if err != nil {
		return b.failure(ctx, adapter.Name(), url, err)
	}

	title, text, err := adapter.ExtractText(body)
	if err != nil {
		// Unparseable HTML will not parse better on retry.
		return b.failure(ctx, adapter.Name(), url, resilience.NewPermanentError(err, status))
	}

	doc := model.RawDocument{
		Issuer:     adapter.Name(),
		SourceURL:  url,
		PageTitle:  title,
		FetchedAt:  time.Now().UTC(),
		RawText:    text,
		HTTPStatus: status,
	}

	written, err := b.store.PutRawDocument(ctx, doc)
	if err != nil {
		return b.failure(ctx, adapter.Name(), url, err)
	}
	if !written {
		zap.L().Debug("content unchanged, skipped write",
			zap.String("issuer", adapter.Name()),
			zap.String("url", url))
	}

	return model.FetchOutcome{URL: url, Document: &doc}
}

func (b *Batch) failure(ctx context.Context, issuerName, url string, err error) model.FetchOutcome {
	permanent := resilience.IsPermanent(err)
	zap.L().Warn("fetch failed",
		zap.String("issuer", issuerName),
		zap.String("url", url),
		zap.Bool("permanent", permanent),
		zap.Error(err))

	if rerr := b.store.RecordFetchFailure(ctx, issuerName, url, err.Error(), permanent); rerr != nil {
		zap.L().Error("recording fetch failure failed", zap.String("url", url), zap.Error(rerr))
	}
	return model.FetchOutcome{URL: url, Err: err, Permanent: permanent}
}

// FetchAll fetches several issuers concurrently, bounded by maxConcurrent.
// Results are keyed by adapter name.
func (b *Batch) FetchAll(ctx context.Context, adapters []issuer.Adapter, seeds map[string][]string, maxConcurrent int) (map[string][]model.FetchOutcome, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	var mu sync.Mutex
	results := make(map[string][]model.FetchOutcome, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, adapter := range adapters {
		g.Go(func() error {
			outcomes, err := b.FetchIssuer(gctx, adapter, seeds[adapter.Name()])
			if err != nil {
				return err
			}
			mu.Lock()
			results[adapter.Name()] = outcomes
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// appendNew appends extras not already present in urls.
func appendNew(urls, extras []string) []string {
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		seen[u] = true
	}
	for _, u := range extras {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}
