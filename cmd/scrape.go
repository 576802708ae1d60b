package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardscope/card-pipeline/internal/issuer"
	"github.com/cardscope/card-pipeline/internal/model"
	"github.com/cardscope/card-pipeline/internal/store"
)

var (
	scrapeSeedFile      string
	scrapeMaxConcurrent int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [issuer...]",
	Short: "Fetch card detail pages into the raw corpus",
	Long:  "Fetches card-detail pages for the given issuers (all registered issuers by default) and appends them to the raw document store. Unchanged pages are skipped by content hash.",
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

		seeds := map[string][]string{}
		if scrapeSeedFile != "" {
			list, err := issuer.ReadSeedFile(scrapeSeedFile)
			if err != nil {
				return err
			}
			seeds = issuer.SeedsByIssuer(list)
			zap.L().Info("seed file loaded",
				zap.String("path", scrapeSeedFile),
				zap.Int("urls", len(list)))
		}

		summary, err := runScrape(ctx, env, adapters, seeds)
		if err != nil {
			return err
		}
		return checkDegraded(summary)
	},
}

// runScrape fetches all adapters under a recorded run and returns the fetch
// half of the run summary.
func runScrape(ctx context.Context, env *pipelineEnv, adapters []issuer.Adapter, seeds map[string][]string) (model.RunSummary, error) {
	var summary model.RunSummary

	run, err := env.Store.CreateRun(ctx, issuerLabel(adapters))
	if err != nil {
		return summary, err
	}
	if err := env.Store.UpdateRunStatus(ctx, run.ID, model.RunStatusFetching); err != nil {
		return summary, err
	}

	start := time.Now()
	outcomes, fetchErr := env.Batch.FetchAll(ctx, adapters, seeds, scrapeMaxConcurrent)

	for _, issuerOutcomes := range outcomes {
		for _, o := range issuerOutcomes {
			summary.URLs++
			if o.Failed() {
				summary.FetchFailed++
			} else {
				summary.Fetched++
			}
		}
	}
	summary.DurationMS = time.Since(start).Milliseconds()

	status := model.RunStatusComplete
	if fetchErr != nil {
		status = model.RunStatusFailed
	}
	completeRunWith(ctx, env.Store, run.ID, status, &summary)

	zap.L().Info("scrape finished",
		zap.String("run", run.ID),
		zap.Int("urls", summary.URLs),
		zap.Int("fetched", summary.Fetched),
		zap.Int("failed", summary.FetchFailed),
		zap.Int64("duration_ms", summary.DurationMS))

	return summary, fetchErr
}

// checkDegraded maps a degraded summary to a nonzero exit so automation can
// catch partial runs without parsing logs.
func checkDegraded(summary model.RunSummary) error {
	if summary.Degraded() {
		return eris.Errorf("run degraded: %d fetch failures, %d parse failures, %d flagged for manual review",
			summary.FetchFailed, summary.ParseFailed, summary.ManualReview)
	}
	return nil
}

func issuerLabel(adapters []issuer.Adapter) string {
	if len(adapters) == 1 {
		return adapters[0].Name()
	}
	return "all"
}

// completeRunWith records a run's terminal status and summary, logging
// rather than failing when the bookkeeping write does not land.
func completeRunWith(ctx context.Context, st store.Store, runID string, status model.RunStatus, summary *model.RunSummary) {
	if err := st.CompleteRun(ctx, runID, status, summary); err != nil {
		zap.L().Error("failed to record run summary", zap.Error(err))
	}
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeSeedFile, "seed", "", "CSV or XLSX file of issuer,url seed pairs")
	scrapeCmd.Flags().IntVar(&scrapeMaxConcurrent, "max-concurrent", 0, "max issuers fetched concurrently")
	rootCmd.AddCommand(scrapeCmd)
}
