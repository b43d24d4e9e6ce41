package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NightMareKD/crawler-medicine/internal/database"
	"github.com/NightMareKD/crawler-medicine/internal/domain"
	"github.com/NightMareKD/crawler-medicine/internal/logger"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
)

// Queue claims and updates OCR queue entries.
type Queue interface {
	ClaimNext(ctx context.Context) (*domain.OCREntry, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, lastError string, d retry.Decision) error
	StatusSummary(ctx context.Context, contextID string) (*domain.QueueStats, error)
}

// DocumentStore folds recognized text and OCR state into document records.
type DocumentStore interface {
	AppendContent(ctx context.Context, id, text string) error
	UpdateOCR(ctx context.Context, id string, ocr domain.JSONBMap) error
	UpdateProcessingStage(ctx context.Context, id, stage, state string) error
}

// AssetStore reads asset bytes from blob storage.
type AssetStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// AuditLog appends audit events.
type AuditLog interface {
	Record(ctx context.Context, params database.RecordParams) (string, error)
}

// Config configures the OCR worker pool.
type Config struct {
	WorkerCount     int
	ClaimRetryDelay time.Duration
}

// WorkerPool runs OCR workers that recognize assets from the OCR queue.
type WorkerPool struct {
	queue      Queue
	documents  DocumentStore
	assets     AssetStore
	recognizer Recognizer
	audit      AuditLog
	policy     retry.Policy
	log        logger.Interface

	workerCount     int
	claimRetryDelay time.Duration
}

// NewWorkerPool creates an OCR worker pool.
func NewWorkerPool(
	queue Queue,
	documents DocumentStore,
	assets AssetStore,
	recognizer Recognizer,
	audit AuditLog,
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
		assets:          assets,
		recognizer:      recognizer,
		audit:           audit,
		policy:          policy,
		log:             log.WithComponent("ocr-worker"),
		workerCount:     cfg.WorkerCount,
		claimRetryDelay: cfg.ClaimRetryDelay,
	}
}

// Start launches the worker goroutines and blocks until ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.log.Info("starting OCR workers", "worker_count", wp.workerCount)

	var wg sync.WaitGroup
	for i := 0; i < wp.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wp.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	wp.log.Info("OCR workers stopped")
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

func (wp *WorkerPool) worker(ctx context.Context, workerID int) {
	wp.log.Info("worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.log.Info("worker stopping", "worker_id", workerID)
			return
		default:
		}

		entry, err := wp.queue.ClaimNext(ctx)
		if errors.Is(err, database.ErrNoItemAvailable) {
			if wp.sleepOrCancel(ctx) {
				return
			}
			continue
		}
		if err != nil {
			wp.log.Error("claim failed", "worker_id", workerID, "error", err.Error())
			if wp.sleepOrCancel(ctx) {
				return
			}
			continue
		}

		wp.processEntry(ctx, entry)
	}
}

func (wp *WorkerPool) sleepOrCancel(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(wp.claimRetryDelay):
		return false
	}
}

// processEntry recognizes one claimed asset and folds the result into the
// parent document.
func (wp *WorkerPool) processEntry(ctx context.Context, entry *domain.OCREntry) {
	data, dlErr := wp.assets.Download(ctx, entry.StoragePath)
	if dlErr != nil {
		wp.handleFailure(ctx, entry, fmt.Errorf("download asset: %w", dlErr))
		return
	}

	result, recErr := wp.recognizer.Recognize(ctx, data, entry.AssetType)
	if recErr != nil {
		wp.handleFailure(ctx, entry, fmt.Errorf("recognize: %w", recErr))
		return
	}

	if result.Text != "" {
		appendErr := wp.documents.AppendContent(ctx, entry.ContextID, "\n\n"+result.Text)
		if appendErr != nil && !errors.Is(appendErr, database.ErrDocumentNotFound) {
			wp.handleFailure(ctx, entry, fmt.Errorf("append recognized text: %w", appendErr))
			return
		}
	}

	if completeErr := wp.queue.Complete(ctx, entry.ID); completeErr != nil {
		wp.log.Error("complete failed", "id", entry.ID, "error", completeErr.Error())
		return
	}

	wp.rollUpDocument(ctx, entry.ContextID)

	wp.recordAudit(ctx, domain.EventOCRCompleted, entry.ContextID, true, domain.JSONBMap{
		"storage_path": entry.StoragePath,
		"asset_type":   entry.AssetType,
		"confidence":   result.Confidence,
		"text_length":  len(result.Text),
	})
	wp.log.Info("asset recognized",
		"storage_path", entry.StoragePath,
		"document_id", entry.ContextID,
		"confidence", result.Confidence,
	)
}

// handleFailure consults the retry policy and requeues or terminally
// fails the entry. A terminal failure still rolls document state up so
// the parent reflects the partial outcome.
func (wp *WorkerPool) handleFailure(ctx context.Context, entry *domain.OCREntry, cause error) {
	d := wp.policy.Decide(entry.Attempts, entry.MaxAttempts)

	if failErr := wp.queue.Fail(ctx, entry.ID, cause.Error(), d); failErr != nil {
		wp.log.Error("fail transition error", "id", entry.ID, "error", failErr.Error())
		return
	}

	wp.recordAudit(ctx, domain.EventOCRFailed, entry.ContextID, false, domain.JSONBMap{
		"storage_path": entry.StoragePath,
		"attempts":     entry.Attempts,
		"terminal":     d.Terminal,
		"error":        cause.Error(),
	})

	if d.Terminal {
		wp.rollUpDocument(ctx, entry.ContextID)
		wp.log.Error("asset failed permanently",
			"storage_path", entry.StoragePath, "attempts", entry.Attempts)
	} else {
		wp.log.Info("asset requeued",
			"storage_path", entry.StoragePath, "attempts", entry.Attempts, "delay", d.Delay.String())
	}
}

// rollUpDocument aggregates sibling asset states for one document into
// its ocr summary and processing stage. Best effort: roll-up problems
// are logged, never propagated, since the queue entry itself already
// reached its new state.
func (wp *WorkerPool) rollUpDocument(ctx context.Context, documentID string) {
	summary, sumErr := wp.queue.StatusSummary(ctx, documentID)
	if sumErr != nil {
		wp.log.Warn("OCR summary failed", "document_id", documentID, "error", sumErr.Error())
		return
	}

	ocrState := domain.StagePending
	switch {
	case summary.Pending > 0 || summary.Processing > 0:
		ocrState = domain.StagePending
	case summary.Failed > 0 && summary.Completed > 0:
		ocrState = domain.StagePartial
	case summary.Failed > 0:
		ocrState = domain.StageFailed
	default:
		ocrState = domain.StageCompleted
	}

	ocr := domain.JSONBMap{
		"assets_total":     summary.Total,
		"assets_completed": summary.Completed,
		"assets_failed":    summary.Failed,
		"updated_at":       time.Now().UTC().Format(time.RFC3339),
	}

	if err := wp.documents.UpdateOCR(ctx, documentID, ocr); err != nil {
		wp.log.Warn("OCR summary update failed", "document_id", documentID, "error", err.Error())
		return
	}
	if err := wp.documents.UpdateProcessingStage(ctx, documentID, domain.StageOCR, ocrState); err != nil {
		wp.log.Warn("processing stage update failed", "document_id", documentID, "error", err.Error())
	}
}

func (wp *WorkerPool) recordAudit(ctx context.Context, eventType, documentID string, success bool, details domain.JSONBMap) {
	_, err := wp.audit.Record(ctx, database.RecordParams{
		EventType:  eventType,
		DocumentID: documentID,
		Success:    success,
		Details:    details,
	})
	if err != nil {
		wp.log.Warn("audit write failed", "event_type", eventType, "error", err.Error())
	}
}
