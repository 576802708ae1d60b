package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardscope/card-pipeline/internal/issuer"
	"github.com/cardscope/card-pipeline/internal/model"
	"github.com/cardscope/card-pipeline/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process [issuer...]",
	Short: "Extract and validate stored raw documents",
	Long:  "Runs LLM extraction over the latest stored raw document per URL, validates the result against the canonical schema and persists candidates with their validation reports.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		adapters, err := selectAdapters(env.Registry, args)
		if err != nil {
			return err
		}

		_, summary, err := runProcess(ctx, env, adapters)
		if err != nil {
			return err
		}
		return checkDegraded(summary)
	},
}

// runProcess extracts and validates every selected issuer's corpus under a
// recorded run, returning the validated results and the summary.
func runProcess(ctx context.Context, env *pipelineEnv, adapters []issuer.Adapter) ([]pipeline.Result, model.RunSummary, error) {
	var summary model.RunSummary
	var results []pipeline.Result

	run, err := env.Store.CreateRun(ctx, issuerLabel(adapters))
	if err != nil {
		return nil, summary, err
	}
	if err := env.Store.UpdateRunStatus(ctx, run.ID, model.RunStatusExtracting); err != nil {
		return nil, summary, err
	}

	start := time.Now()
	var procErr error
	for _, a := range adapters {
		res, s, err := env.Processor.ProcessIssuer(ctx, a.Name(), a.DisplayName())
		results = append(results, res...)
		summary.Add(s)
		if err != nil {
			procErr = err
			break
		}
	}
	summary.DurationMS = time.Since(start).Milliseconds()

	status := model.RunStatusComplete
	if procErr != nil {
		status = model.RunStatusFailed
	}
	completeRunWith(ctx, env.Store, run.ID, status, &summary)

	zap.L().Info("process finished",
		zap.String("run", run.ID),
		zap.Int("extracted", summary.Extracted),
		zap.Int("parse_failed", summary.ParseFailed),
		zap.Int("manual_review", summary.ManualReview),
		zap.Float64("cost_usd", summary.CostUSD),
		zap.Int64("duration_ms", summary.DurationMS))

	return results, summary, procErr
}

func init() {
	rootCmd.AddCommand(processCmd)
}
