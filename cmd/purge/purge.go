// Package purge implements the purge command for deleting old terminal
// queue entries.
package purge

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/NightMareKD/crawler-medicine/cmd/common"
)

// defaultRetention keeps terminal entries around long enough for
// operators to inspect recent failures before they are deleted.
const defaultRetention = 30 * 24 * time.Hour

// Command returns the purge command.
func Command() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old completed and failed queue entries",
		Long: `Delete completed and failed queue entries whose last update is older
than the retention window. Pending and processing entries are never
touched, and neither are document records or the audit log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), olderThan)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", defaultRetention,
		"retention window for terminal entries")

	return cmd
}

func run(ctx context.Context, olderThan time.Duration) error {
	deps, err := common.BuildDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	crawlPurged, err := deps.CrawlQueue.PurgeTerminal(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("failed to purge crawl queue: %w", err)
	}
	ocrPurged, err := deps.OCRQueue.PurgeTerminal(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("failed to purge OCR queue: %w", err)
	}

	fmt.Printf("purged %d crawl entries and %d OCR entries older than %s\n",
		crawlPurged, ocrPurged, olderThan)
	return nil
}
