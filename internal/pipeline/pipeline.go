package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cardscope/card-pipeline/internal/model"
	"github.com/cardscope/card-pipeline/internal/store"
	"github.com/cardscope/card-pipeline/pkg/anthropic"
)

// Processor runs extraction and validation over the stored raw documents of
// an issuer and persists the candidates alongside their reports.
type Processor struct {
	store     store.Store
	extractor *Extractor
	validator *Validator

	// MaxConcurrent bounds parallel model calls. Defaults to 3.
	MaxConcurrent int
}

func NewProcessor(st store.Store, ex *Extractor, val *Validator) *Processor {
	return &Processor{store: st, extractor: ex, validator: val, MaxConcurrent: 3}
}

// Result pairs one document's card with its validation verdict.
type Result struct {
	Card   model.Card
	Report model.ValidationReport
}

// ProcessIssuer extracts and validates every latest raw document stored for
// issuer. One document failing to parse or validate never aborts the batch;
// it is counted in the summary and skipped. Cancellation drains in-flight
// model calls and returns what finished, with the context's error.
func (p *Processor) ProcessIssuer(ctx context.Context, issuer, displayIssuer string) ([]Result, model.RunSummary, error) {
	docs, err := p.store.LatestRawDocuments(ctx, issuer)
	if err != nil {
		return nil, model.RunSummary{}, eris.Wrapf(err, "pipeline: load documents for %s", issuer)
	}
	if len(docs) == 0 {
		zap.L().Info("no raw documents to process", zap.String("issuer", issuer))
		return nil, model.RunSummary{}, nil
	}

	limit := p.MaxConcurrent
	if limit <= 0 {
		limit = 3
	}

	var (
		mu      sync.Mutex
		results []Result
		summary model.RunSummary
		usage   anthropic.TokenUsage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, u, perr := p.processOne(gctx, doc, displayIssuer)

			mu.Lock()
			defer mu.Unlock()
			usage.Add(u)
			if perr != nil {
				// Cancellation propagates; provider failures count as a
				// parse failure for this document and the batch goes on.
				if gctx.Err() != nil {
					return perr
				}
				zap.L().Error("extraction failed",
					zap.String("url", doc.SourceURL),
					zap.Error(perr))
				summary.ParseFailed++
				return nil
			}
			summary.Extracted++
			if res == nil {
				summary.ParseFailed++
				return nil
			}
			if res.Report.ManualReview {
				summary.ManualReview++
			}
			results = append(results, *res)
			return nil
		})
	}

	waitErr := g.Wait()

	summary.InputTokens = int(usage.InputTokens)
	summary.OutputTokens = int(usage.OutputTokens)
	summary.CostUSD = usage.EstimateCost(p.extractor.opts.Model)
	usage.LogCost(p.extractor.opts.Model, "extract")

	if waitErr != nil {
		return results, summary, eris.Wrapf(waitErr, "pipeline: process %s", issuer)
	}
	return results, summary, nil
}

// processOne runs the model over one document and stores the outcome. A nil
// Result with nil error means the response never parsed; the zero-confidence
// candidate is still persisted so the failure is visible.
func (p *Processor) processOne(ctx context.Context, doc model.RawDocument, displayIssuer string) (*Result, anthropic.TokenUsage, error) {
	cand, usage, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, usage, err
	}

	if cand.ParsedFields == nil {
		if serr := p.store.PutCandidate(ctx, cand, nil); serr != nil {
			zap.L().Error("failed to store candidate", zap.String("url", doc.SourceURL), zap.Error(serr))
		}
		return nil, usage, nil
	}

	card, err := BuildCard(cand, displayIssuer)
	if err != nil {
		if serr := p.store.PutCandidate(ctx, cand, nil); serr != nil {
			zap.L().Error("failed to store candidate", zap.String("url", doc.SourceURL), zap.Error(serr))
		}
		return nil, usage, nil
	}

	report := p.validator.Validate(card, cand.Confidence)

	// Validation only ever lowers confidence.
	cand.Confidence = report.AdjustedConfidence
	card.Metadata.Confidence = report.AdjustedConfidence
	card.Metadata.ManualReview = report.ManualReview

	if serr := p.store.PutCandidate(ctx, cand, &report); serr != nil {
		zap.L().Error("failed to store candidate", zap.String("url", doc.SourceURL), zap.Error(serr))
	}

	zap.L().Info("document processed",
		zap.String("card", card.ID),
		zap.Float64("confidence", report.AdjustedConfidence),
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)),
		zap.Bool("manual_review", report.ManualReview))

	return &Result{Card: card, Report: report}, usage, nil
}
