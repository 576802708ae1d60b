package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardscope/card-pipeline/internal/dataset"
	"github.com/cardscope/card-pipeline/internal/model"
	"github.com/cardscope/card-pipeline/internal/pipeline"
	"github.com/cardscope/card-pipeline/internal/store"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export [issuer...]",
	Short: "Merge validated candidates into the dataset file",
	Long:  "Builds canonical cards from stored candidates, merges them into the existing dataset with conflict precedence and atomically writes the result. Cards absent from this batch are retained.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, name := range args {
			if _, err := env.Registry.Get(name); err != nil {
				return err
			}
		}

		output := exportOutput
		if output == "" {
			output = cfg.Export.OutputPath
		}

		summary, err := runExport(ctx, env, args, output)
		if err != nil {
			return err
		}
		return checkDegraded(summary)
	},
}

// candidateCards rebuilds canonical cards from the stored candidates of the
// given issuers (all issuers when names is empty). Candidates without parsed
// fields are counted, not built.
func candidateCards(ctx context.Context, env *pipelineEnv, names []string) ([]model.Card, model.RunSummary, error) {
	var summary model.RunSummary
	issuers := names
	if len(issuers) == 0 {
		issuers = []string{""}
	}

	var cards []model.Card
	for _, name := range issuers {
		records, err := env.Store.ListCandidates(ctx, name)
		if err != nil {
			return nil, summary, err
		}
		for _, rec := range records {
			if rec.Candidate.ParsedFields == nil {
				summary.ParseFailed++
				continue
			}
			card, err := buildStoredCard(env, rec)
			if err != nil {
				zap.L().Warn("stored candidate could not be rebuilt",
					zap.String("url", rec.Candidate.SourceURL),
					zap.Error(err))
				summary.ParseFailed++
				continue
			}
			if card.Metadata.ManualReview {
				summary.ManualReview++
			}
			cards = append(cards, card)
		}
	}
	return cards, summary, nil
}

func buildStoredCard(env *pipelineEnv, rec store.CandidateRecord) (model.Card, error) {
	display := rec.Candidate.Issuer
	if a, err := env.Registry.Get(rec.Candidate.Issuer); err == nil {
		display = a.DisplayName()
	}

	card, err := pipeline.BuildCard(rec.Candidate, display)
	if err != nil {
		return model.Card{}, err
	}
	if rec.Report != nil {
		card.Metadata.Confidence = rec.Report.AdjustedConfidence
		card.Metadata.ManualReview = rec.Report.ManualReview
	}
	return card, nil
}

// runExport merges rebuilt cards into the dataset file and records merge
// conflicts as store artifacts.
func runExport(ctx context.Context, env *pipelineEnv, names []string, output string) (model.RunSummary, error) {
	cards, summary, err := candidateCards(ctx, env, names)
	if err != nil {
		return summary, err
	}

	existing, err := dataset.Load(output)
	if err != nil {
		return summary, err
	}

	res := dataset.Merge(existing, cards, time.Now())
	for _, c := range res.Conflicts {
		if err := env.Store.RecordConflict(ctx, c); err != nil {
			zap.L().Error("failed to record conflict", zap.Error(err))
		}
	}
	summary.Merged = res.Added + res.Updated
	summary.Conflicts = len(res.Conflicts)

	if err := dataset.Write(output, res.Dataset); err != nil {
		return summary, err
	}

	zap.L().Info("dataset exported",
		zap.String("path", output),
		zap.String("version", res.Dataset.Version),
		zap.Int("cards", len(res.Dataset.Cards)),
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("conflicts", len(res.Conflicts)))

	return summary, nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "dataset output path (default from config)")
	rootCmd.AddCommand(exportCmd)
}
