package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardscope/card-pipeline/internal/model"
	"github.com/cardscope/card-pipeline/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate [issuer...]",
	Short: "Re-validate stored candidates without calling the model",
	Long:  "Rebuilds cards from stored candidates and re-runs schema validation, refreshing the persisted reports. Useful after tightening thresholds; no model calls are made.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		validator := &pipeline.Validator{
			ReviewThreshold: cfg.Validate.ReviewThreshold,
			RateDivergence:  cfg.Validate.RateDivergence,
		}

		issuers := args
		if len(issuers) == 0 {
			issuers = []string{""}
		}

		var summary model.RunSummary
		for _, name := range issuers {
			records, err := env.Store.ListCandidates(ctx, name)
			if err != nil {
				return err
			}

			for _, rec := range records {
				cand := rec.Candidate
				if cand.ParsedFields == nil {
					summary.ParseFailed++
					continue
				}

				display := cand.Issuer
				if a, err := env.Registry.Get(cand.Issuer); err == nil {
					display = a.DisplayName()
				}

				card, err := pipeline.BuildCard(cand, display)
				if err != nil {
					summary.ParseFailed++
					continue
				}

				// Score from the parsed fields, not the stored adjusted
				// confidence, so re-validation does not compound penalties.
				conf := pipeline.Confidence(cand.ParsedFields)
				report := validator.Validate(card, conf)
				cand.Confidence = report.AdjustedConfidence

				if err := env.Store.PutCandidate(ctx, cand, &report); err != nil {
					return err
				}

				summary.Extracted++
				if report.ManualReview {
					summary.ManualReview++
					zap.L().Warn("card flagged for manual review",
						zap.String("card", card.ID),
						zap.Float64("confidence", report.AdjustedConfidence),
						zap.Int("errors", len(report.Errors)),
						zap.Int("warnings", len(report.Warnings)))
				}
			}
		}

		zap.L().Info("validation finished",
			zap.Int("validated", summary.Extracted),
			zap.Int("parse_failed", summary.ParseFailed),
			zap.Int("manual_review", summary.ManualReview))

		return checkDegraded(summary)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
