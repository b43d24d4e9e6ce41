// Package ocr implements the ocr command: it runs the OCR worker pool
// that recognizes queued assets and folds their text into document
// records.
package ocr

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NightMareKD/crawler-medicine/cmd/common"
	ocrworker "github.com/NightMareKD/crawler-medicine/internal/ocr"
)

// Command returns the ocr command.
func Command() *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Run the OCR worker pool",
		Long: `Run workers that claim pending assets from the OCR queue, download
their bytes from blob storage, recognize text, and append it to the
owning document record. Runs until interrupted unless --cycles bounds
the number of items processed.`,
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

	cfg := deps.Config.OCR
	policy := cfg.RetryPolicy()

	pool := ocrworker.NewWorkerPool(
		deps.OCRQueue,
		deps.Documents,
		store,
		ocrworker.PassthroughRecognizer{},
		deps.Audit,
		policy,
		deps.Logger,
		ocrworker.Config{WorkerCount: cfg.WorkerCount, ClaimRetryDelay: cfg.ClaimRetryDelay},
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cycles > 0 {
		processed, runErr := pool.RunCycles(ctx, cycles)
		deps.Logger.Info("bounded OCR run finished", "processed", processed)
		return runErr
	}

	// OCR workers may be the only process deployed, so they run their own
	// recovery for the queue they consume.
	sweeper := common.StartOrphanSweep(ctx, deps.Logger, deps.Audit,
		map[string]common.QueueSweeper{"ocr_queue": deps.OCRQueue},
		cfg.SweepSchedule, cfg.StaleAfter, policy)
	defer sweeper.Stop()

	return pool.Start(ctx)
}
