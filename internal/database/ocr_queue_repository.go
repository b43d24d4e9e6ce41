package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/NightMareKD/crawler-medicine/internal/domain"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
)

// ocrQueueColumns lists columns for SELECT queries on ocr_queue.
const ocrQueueColumns = `id, context_id, storage_path, asset_type,
	priority_tier, priority_score, status, scheduled_time, attempts, max_attempts,
	processing_started_at, completed_at, failed_at, last_attempt_at, last_error,
	created_at, updated_at`

// OCRQueueRepository owns the lifecycle of OCR queue entries. Same
// operation shape as the crawl queue, scoped by (context_id,
// storage_path) instead of URL.
type OCRQueueRepository struct {
	db   *sqlx.DB
	spec queueSpec
}

// NewOCRQueueRepository creates a new OCR queue repository.
func NewOCRQueueRepository(db *sqlx.DB) *OCRQueueRepository {
	return &OCRQueueRepository{
		db:   db,
		spec: queueSpec{table: "ocr_queue", columns: ocrQueueColumns},
	}
}

// EnqueueOCRParams contains the parameters for enqueueing an asset.
type EnqueueOCRParams struct {
	ContextID   string
	StoragePath string
	AssetType   string

	PriorityTier  string
	PriorityScore float64
	MaxAttempts   int
}

// Enqueue inserts a new pending OCR queue entry and returns its id.
// Returns ErrDuplicateAsset if an active entry for the same (context_id,
// storage_path) already exists, so re-segregating a document never
// creates duplicate work for the same asset.
func (r *OCRQueueRepository) Enqueue(ctx context.Context, params EnqueueOCRParams) (string, error) {
	if !domain.ValidTier(params.PriorityTier) {
		return "", fmt.Errorf("invalid priority tier: %q", params.PriorityTier)
	}

	id := uuid.NewString()
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	query := `
		INSERT INTO ocr_queue (
			id, context_id, storage_path, asset_type,
			priority_tier, priority_score, status, scheduled_time, attempts, max_attempts
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', NOW(), 0, $7)
	`

	_, err := r.db.ExecContext(
		ctx, query,
		id, params.ContextID, params.StoragePath, params.AssetType,
		params.PriorityTier, params.PriorityScore, maxAttempts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s/%s", ErrDuplicateAsset, params.ContextID, params.StoragePath)
		}
		return "", fmt.Errorf("failed to enqueue asset: %w", err)
	}

	return id, nil
}

// ClaimNext atomically claims the highest-priority eligible entry.
func (r *OCRQueueRepository) ClaimNext(ctx context.Context) (*domain.OCREntry, error) {
	return claimNext[domain.OCREntry](ctx, r.db, r.spec)
}

// Complete transitions a claimed entry to completed. Idempotent.
func (r *OCRQueueRepository) Complete(ctx context.Context, id string) error {
	query := `
		UPDATE ocr_queue
		SET status = 'completed',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, execErr := r.db.ExecContext(ctx, query, id)
	if execErr != nil {
		return fmt.Errorf("failed to complete OCR entry: %w", execErr)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return resolveCompleteConflict(ctx, r.db, r.spec, id)
	}
	return nil
}

// Fail applies a retry decision to a claimed entry.
func (r *OCRQueueRepository) Fail(ctx context.Context, id, lastError string, d retry.Decision) error {
	return failItem(ctx, r.db, r.spec, id, lastError, d)
}

// SweepOrphans recovers entries stuck in processing.
func (r *OCRQueueRepository) SweepOrphans(ctx context.Context, staleAfter time.Duration, policy retry.Policy) (int, error) {
	return sweepOrphans(ctx, r.db, r.spec, staleAfter, policy)
}

// Stats returns aggregate entry counts grouped by status.
func (r *OCRQueueRepository) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return queueStats(ctx, r.db, r.spec)
}

// PurgeTerminal deletes completed and failed entries whose last update
// is older than olderThan. Returns the number of entries deleted.
func (r *OCRQueueRepository) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	return purgeTerminal(ctx, r.db, r.spec, olderThan)
}

// StatusSummary aggregates OCR entry counts for one document, used to
// roll child asset state up into the document's ocr summary.
func (r *OCRQueueRepository) StatusSummary(ctx context.Context, contextID string) (*domain.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM ocr_queue WHERE context_id = $1 GROUP BY status`

	rows, err := r.db.QueryxContext(ctx, query, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to query OCR status summary: %w", err)
	}
	defer rows.Close()

	stats := &domain.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan OCR summary row: %w", scanErr)
		}

		switch status {
		case domain.StatusPending:
			stats.Pending = count
		case domain.StatusProcessing:
			stats.Processing = count
		case domain.StatusCompleted:
			stats.Completed = count
		case domain.StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate OCR summary: %w", rowsErr)
	}

	return stats, nil
}
