// Package stats implements the stats command for inspecting queue depth
// and recent pipeline activity.
package stats

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/NightMareKD/crawler-medicine/cmd/common"
	"github.com/NightMareKD/crawler-medicine/internal/domain"
)

// Command returns the stats command.
func Command() *cobra.Command {
	var auditLimit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and recent pipeline activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), auditLimit)
		},
	}

	cmd.Flags().IntVar(&auditLimit, "audit", 10, "number of recent audit events to show (0 = none)")

	return cmd
}

func run(ctx context.Context, auditLimit int) error {
	deps, err := common.BuildDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	crawlStats, err := deps.CrawlQueue.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read crawl queue stats: %w", err)
	}
	ocrStats, err := deps.OCRQueue.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read OCR queue stats: %w", err)
	}
	docCount, err := deps.Documents.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}

	renderQueues(crawlStats, ocrStats, docCount)

	if auditLimit > 0 {
		events, auditErr := deps.Audit.ListRecent(ctx, auditLimit)
		if auditErr != nil {
			return fmt.Errorf("failed to list audit events: %w", auditErr)
		}
		renderAudit(events)
	}

	return nil
}

func renderQueues(crawlStats, ocrStats *domain.QueueStats, docCount int) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Queue", "Pending", "Processing", "Completed", "Failed", "Total"})
	t.AppendRows([]table.Row{
		{"crawl", crawlStats.Pending, crawlStats.Processing, crawlStats.Completed, crawlStats.Failed, crawlStats.Total},
		{"ocr", ocrStats.Pending, ocrStats.Processing, ocrStats.Completed, ocrStats.Failed, ocrStats.Total},
	})
	t.AppendFooter(table.Row{"documents", "", "", "", "", docCount})
	t.Render()
}

func renderAudit(events []*domain.AuditEvent) {
	if len(events) == 0 {
		fmt.Println("no audit events")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Event", "Document", "Success"})
	for _, ev := range events {
		doc := ev.DocumentID
		if doc == "" {
			doc = "-"
		}
		t.AppendRow(table.Row{ev.Timestamp.Format("2006-01-02 15:04:05"), ev.EventType, doc, ev.Success})
	}
	t.Render()
}
