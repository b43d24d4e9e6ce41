// Package crawl implements the crawl command: it runs the crawl worker
// pool that claims queued URLs, fetches and segregates them, and records
// document records.
package crawl

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NightMareKD/crawler-medicine/cmd/common"
	"github.com/NightMareKD/crawler-medicine/internal/ingest"
	"github.com/NightMareKD/crawler-medicine/internal/segregate"
)

// Command returns the crawl command.
func Command() *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the crawl worker pool",
		Long: `Run workers that claim pending URLs from the crawl queue, fetch and
deduplicate their content, segregate embedded assets to blob storage,
and persist document records. Runs until interrupted unless --cycles
bounds the number of items processed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cycles)
		},
	}

	cmd.Flags().IntVar(&cycles, "cycles", 0,
		"process at most this many queue entries, then exit (0 = run until interrupted)")

	return cmd
}

func run(parent context.Context, cycles int) error {
	deps, err := common.BuildDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	store, err := deps.BuildBlobStore()
	if err != nil {
		return fmt.Errorf("failed to build asset store: %w", err)
	}

	cfg := deps.Config.Crawl
	policy := cfg.RetryPolicy()

	segregator := segregate.NewSegregator(
		segregate.NewHTTPDownloader(cfg.FetchTimeout, cfg.UserAgent),
		store,
		deps.OCRQueue,
		deps.Logger,
	)

	pool := ingest.NewWorkerPool(
		deps.CrawlQueue,
		deps.Documents,
		segregator,
		deps.Audit,
		ingest.NewHTTPFetcher(cfg.FetchTimeout, cfg.UserAgent),
		policy,
		deps.Logger,
		ingest.Config{WorkerCount: cfg.WorkerCount, ClaimRetryDelay: cfg.ClaimRetryDelay},
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cycles > 0 {
		processed, runErr := pool.RunCycles(ctx, cycles)
		deps.Logger.Info("bounded crawl run finished", "processed", processed)
		return runErr
	}

	sweeper := common.StartOrphanSweep(ctx, deps.Logger, deps.Audit,
		map[string]common.QueueSweeper{
			"crawl_queue": deps.CrawlQueue,
			"ocr_queue":   deps.OCRQueue,
		},
		cfg.SweepSchedule, cfg.StaleAfter, policy)
	defer sweeper.Stop()

	return pool.Start(ctx)
}
