// Package ingest implements the crawl worker loop: claim a URL, fetch
// it, fingerprint and deduplicate, segregate assets, persist the
// document record, and mark the queue entry completed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NightMareKD/crawler-medicine/internal/database"
	"github.com/NightMareKD/crawler-medicine/internal/domain"
	"github.com/NightMareKD/crawler-medicine/internal/fingerprint"
	"github.com/NightMareKD/crawler-medicine/internal/logger"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
	"github.com/NightMareKD/crawler-medicine/internal/segregate"
)

// CrawlQueue claims and updates crawl queue entries.
type CrawlQueue interface {
	ClaimNext(ctx context.Context) (*domain.CrawlEntry, error)
	Complete(ctx context.Context, id, contextID string) error
	Fail(ctx context.Context, id, lastError string, d retry.Decision) error
}

// DocumentStore persists document records.
type DocumentStore interface {
	Upsert(ctx context.Context, doc *domain.Document) error
	FindByContentHash(ctx context.Context, hash string) (*domain.Document, error)
}

// Segregator splits a fetched document into text and OCR-bound assets.
type Segregator interface {
	Segregate(ctx context.Context, params segregate.Params) (*segregate.Manifest, error)
}

// AuditLog appends audit events.
type AuditLog interface {
	Record(ctx context.Context, params database.RecordParams) (string, error)
}

// Config configures the crawl worker pool.
type Config struct {
	WorkerCount     int
	ClaimRetryDelay time.Duration
}

// WorkerPool runs crawl workers that process URLs from the crawl queue.
// Workers coordinate only through the durable store; the pool holds no
// shared mutable state beyond its dependencies.
type WorkerPool struct {
	queue      CrawlQueue
	documents  DocumentStore
	segregator Segregator
	audit      AuditLog
	fetcher    Fetcher
	policy     retry.Policy
	log        logger.Interface

	workerCount     int
	claimRetryDelay time.Duration
}

// NewWorkerPool creates a crawl worker pool.
func NewWorkerPool(
	queue CrawlQueue,
	documents DocumentStore,
	segregator Segregator,
	audit AuditLog,
	fetcher Fetcher,
	policy retry.Policy,
	log logger.Interface,
	cfg Config,
) *WorkerPool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.ClaimRetryDelay <= 0 {
		cfg.ClaimRetryDelay = 5 * time.Second
	}

	return &WorkerPool{
		queue:           queue,
		documents:       documents,
		segregator:      segregator,
		audit:           audit,
		fetcher:         fetcher,
		policy:          policy,
		log:             log.WithComponent("crawl-worker"),
		workerCount:     cfg.WorkerCount,
		claimRetryDelay: cfg.ClaimRetryDelay,
	}
}

// Start launches the worker goroutines and blocks until ctx is
// cancelled. A worker asked to stop finishes its current item; anything
// it abandons is recovered by the orphan sweep.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.log.Info("starting crawl workers", "worker_count", wp.workerCount)

	var wg sync.WaitGroup
	for i := 0; i < wp.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wp.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	wp.log.Info("crawl workers stopped")
	return nil
}

// RunCycles processes up to cycles claim attempts on a single worker and
// returns. Used by the CLI's bounded mode.
func (wp *WorkerPool) RunCycles(ctx context.Context, cycles int) (processed int, err error) {
	for c := 0; c < cycles; c++ {
		entry, claimErr := wp.queue.ClaimNext(ctx)
		if errors.Is(claimErr, database.ErrNoItemAvailable) {
			return processed, nil
		}
		if claimErr != nil {
			return processed, claimErr
		}

		wp.processEntry(ctx, entry)
		processed++
	}
	return processed, nil
}

// worker is a single worker goroutine loop.
func (wp *WorkerPool) worker(ctx context.Context, workerID int) {
	wp.log.Info("worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.log.Info("worker stopping", "worker_id", workerID)
			return
		default:
		}

		if stop := wp.claimAndProcess(ctx, workerID); stop {
			return
		}
	}
}

// claimAndProcess attempts to claim an entry and process it. Returns
// true when the worker should exit (context cancelled).
func (wp *WorkerPool) claimAndProcess(ctx context.Context, workerID int) bool {
	entry, err := wp.queue.ClaimNext(ctx)
	if errors.Is(err, database.ErrNoItemAvailable) {
		return wp.sleepOrCancel(ctx)
	}
	if err != nil {
		wp.log.Error("claim failed", "worker_id", workerID, "error", err.Error())
		return wp.sleepOrCancel(ctx)
	}

	wp.processEntry(ctx, entry)
	return false
}

// sleepOrCancel backs off on an empty queue rather than busy-polling.
// Returns true if the context is cancelled.
func (wp *WorkerPool) sleepOrCancel(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(wp.claimRetryDelay):
		return false
	}
}

// processEntry runs one claimed entry through the full pipeline.
func (wp *WorkerPool) processEntry(ctx context.Context, entry *domain.CrawlEntry) {
	result, fetchErr := wp.fetcher.Fetch(ctx, entry.URL)
	if fetchErr != nil {
		wp.handleFailure(ctx, entry, fmt.Errorf("fetch: %w", fetchErr))
		return
	}

	hash := fingerprint.Fingerprint(string(result.Content))

	existing, findErr := wp.documents.FindByContentHash(ctx, hash)
	if findErr == nil {
		wp.handleDuplicate(ctx, entry, existing)
		return
	}
	if !errors.Is(findErr, database.ErrDocumentNotFound) {
		wp.handleFailure(ctx, entry, fmt.Errorf("dedup lookup: %w", findErr))
		return
	}

	docID := uuid.NewString()

	manifest, segErr := wp.segregator.Segregate(ctx, segregate.Params{
		DocumentID:    docID,
		BaseURL:       entry.URL,
		HTML:          result.Content,
		PriorityTier:  entry.PriorityTier,
		PriorityScore: entry.PriorityScore,
		MaxAttempts:   entry.MaxAttempts,
	})
	if segErr != nil {
		wp.handleFailure(ctx, entry, fmt.Errorf("segregate: %w", segErr))
		return
	}

	doc := buildDocument(docID, entry, result, hash, manifest)
	if upsertErr := wp.documents.Upsert(ctx, doc); upsertErr != nil {
		wp.handleFailure(ctx, entry, fmt.Errorf("persist document: %w", upsertErr))
		return
	}

	if completeErr := wp.queue.Complete(ctx, entry.ID, docID); completeErr != nil {
		wp.log.Error("complete failed", "id", entry.ID, "error", completeErr.Error())
		return
	}

	wp.recordAudit(ctx, domain.EventCrawlCompleted, docID, entry.URL, true, domain.JSONBMap{
		"attempts":     entry.Attempts,
		"assets":       len(manifest.Assets),
		"ocr_enqueued": manifest.Enqueued,
		"partial":      manifest.Partial,
	})
	wp.log.Info("URL ingested", "url", entry.URL, "document_id", docID)
}

// handleDuplicate links the entry to the already ingested document
// instead of re-segregating identical content.
func (wp *WorkerPool) handleDuplicate(ctx context.Context, entry *domain.CrawlEntry, existing *domain.Document) {
	if completeErr := wp.queue.Complete(ctx, entry.ID, existing.ID); completeErr != nil {
		wp.log.Error("complete failed", "id", entry.ID, "error", completeErr.Error())
		return
	}

	wp.recordAudit(ctx, domain.EventDuplicateSkipped, existing.ID, entry.URL, true, domain.JSONBMap{
		"content_hash": existing.ContentHash,
	})
	wp.log.Info("duplicate content skipped", "url", entry.URL, "document_id", existing.ID)
}

// handleFailure consults the retry policy and requeues or terminally
// fails the entry.
func (wp *WorkerPool) handleFailure(ctx context.Context, entry *domain.CrawlEntry, cause error) {
	d := wp.policy.Decide(entry.Attempts, entry.MaxAttempts)

	if failErr := wp.queue.Fail(ctx, entry.ID, cause.Error(), d); failErr != nil {
		wp.log.Error("fail transition error", "id", entry.ID, "error", failErr.Error())
		return
	}

	wp.recordAudit(ctx, domain.EventCrawlFailed, "", entry.URL, false, domain.JSONBMap{
		"attempts": entry.Attempts,
		"terminal": d.Terminal,
		"error":    cause.Error(),
	})

	if d.Terminal {
		wp.log.Error("URL failed permanently", "url", entry.URL, "attempts", entry.Attempts)
	} else {
		wp.log.Info("URL requeued", "url", entry.URL, "attempts", entry.Attempts, "delay", d.Delay.String())
	}
}

// recordAudit appends an audit event, logging rather than propagating
// failures: audit writes never change pipeline outcomes.
func (wp *WorkerPool) recordAudit(ctx context.Context, eventType, documentID, url string, success bool, details domain.JSONBMap) {
	_, err := wp.audit.Record(ctx, database.RecordParams{
		EventType:  eventType,
		DocumentID: documentID,
		URL:        url,
		Success:    success,
		Details:    details,
	})
	if err != nil {
		wp.log.Warn("audit write failed", "event_type", eventType, "error", err.Error())
	}
}

// buildDocument assembles the canonical record for a newly ingested URL.
func buildDocument(
	docID string,
	entry *domain.CrawlEntry,
	result *FetchResult,
	hash string,
	manifest *segregate.Manifest,
) *domain.Document {
	segregateState := domain.StageCompleted
	if manifest.Partial {
		segregateState = domain.StagePartial
	}

	ocrState := domain.StageCompleted
	if manifest.Enqueued > 0 {
		ocrState = domain.StagePending
	}

	return &domain.Document{
		ID:      docID,
		URL:     entry.URL,
		Content: string(result.Content),
		Provenance: domain.JSONBMap{
			"source_agency":    entry.SourceAgency,
			"fetched_at":       result.FetchedAt.Format(time.RFC3339),
			"transport_status": result.StatusCode,
			"content_type":     result.ContentType,
		},
		Metadata: entry.Metadata,
		ProcessingStatus: domain.JSONBMap{
			domain.StageFetch:     domain.StageCompleted,
			domain.StageSegregate: segregateState,
			domain.StageOCR:       ocrState,
			domain.StageAnnotate:  domain.StagePending,
		},
		Assets:      manifest.Assets,
		AssetCounts: manifest.Counts,
		OCR:         domain.JSONBMap{},
		Annotations: domain.JSONBMap{},
		ContentHash: hash,
	}
}
