// Package enqueue implements the enqueue command for adding URLs to the
// crawl queue.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NightMareKD/crawler-medicine/cmd/common"
	"github.com/NightMareKD/crawler-medicine/internal/database"
	"github.com/NightMareKD/crawler-medicine/internal/domain"
)

// Command returns the enqueue command.
func Command() *cobra.Command {
	var (
		tier        string
		score       float64
		agency      string
		maxAttempts int
		metaPairs   []string
	)

	cmd := &cobra.Command{
		Use:   "enqueue URL [URL...]",
		Short: "Add URLs to the crawl queue",
		Long: `Add one or more URLs to the crawl queue as pending entries. URLs whose
active entry already exists are reported and skipped; the rest of the
batch still enqueues.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMetadata(metaPairs)
			if err != nil {
				return err
			}
			return run(cmd.Context(), args, tier, score, agency, maxAttempts, meta)
		},
	}

	cmd.Flags().StringVar(&tier, "tier", domain.TierMedium,
		"priority tier: critical, high, medium, or low")
	cmd.Flags().Float64Var(&score, "score", 0, "priority score within the tier")
	cmd.Flags().StringVar(&agency, "agency", "", "source agency recorded on the entry")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0,
		"retry budget for each entry (0 = default)")
	cmd.Flags().StringArrayVar(&metaPairs, "meta", nil,
		"metadata key=value carried through to the document record (repeatable)")

	return cmd
}

// parseMetadata converts repeated key=value flags into the metadata bag.
func parseMetadata(pairs []string) (domain.JSONBMap, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := domain.JSONBMap{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata pair %q, want key=value", pair)
		}
		meta[key] = value
	}
	return meta, nil
}

func run(ctx context.Context, urls []string, tier string, score float64, agency string, maxAttempts int, meta domain.JSONBMap) error {
	deps, err := common.BuildDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	var enqueued, skipped, failed int
	for _, raw := range urls {
		parsed, parseErr := url.Parse(raw)
		if parseErr != nil || parsed.Host == "" {
			fmt.Printf("invalid URL, skipping: %s\n", raw)
			failed++
			continue
		}

		id, enqErr := deps.CrawlQueue.Enqueue(ctx, database.EnqueueParams{
			URL:           raw,
			Domain:        parsed.Hostname(),
			SourceAgency:  agency,
			PriorityTier:  tier,
			PriorityScore: score,
			MaxAttempts:   maxAttempts,
			Metadata:      meta,
		})
		switch {
		case enqErr == nil:
			fmt.Printf("enqueued %s (%s)\n", raw, id)
			enqueued++
		case errors.Is(enqErr, database.ErrDuplicateURL):
			fmt.Printf("already queued, skipping: %s\n", raw)
			skipped++
		default:
			return fmt.Errorf("failed to enqueue %s: %w", raw, enqErr)
		}
	}

	fmt.Printf("done: %d enqueued, %d duplicates skipped, %d invalid\n", enqueued, skipped, failed)
	return nil
}
