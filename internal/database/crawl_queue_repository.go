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

// crawlQueueColumns lists columns for SELECT queries on crawl_queue.
const crawlQueueColumns = `id, url, domain, source_agency, metadata, context_id,
	priority_tier, priority_score, status, scheduled_time, attempts, max_attempts,
	processing_started_at, completed_at, failed_at, last_attempt_at, last_error,
	created_at, updated_at`

// CrawlQueueRepository owns the lifecycle of crawl queue entries.
type CrawlQueueRepository struct {
	db   *sqlx.DB
	spec queueSpec
}

// NewCrawlQueueRepository creates a new crawl queue repository.
func NewCrawlQueueRepository(db *sqlx.DB) *CrawlQueueRepository {
	return &CrawlQueueRepository{
		db:   db,
		spec: queueSpec{table: "crawl_queue", columns: crawlQueueColumns},
	}
}

// EnqueueParams contains the parameters for enqueueing a URL.
type EnqueueParams struct {
	URL          string
	Domain       string
	SourceAgency string

	// PriorityTier orders items across tiers; PriorityScore orders them
	// within a tier. The score is caller-assigned; this repository only
	// orders by it.
	PriorityTier  string
	PriorityScore float64

	MaxAttempts int

	// ScheduledTime defers eligibility. Zero means immediately eligible.
	ScheduledTime time.Time

	// Metadata is passed through to the produced document record.
	Metadata domain.JSONBMap
}

// Enqueue inserts a new pending crawl queue entry and returns its id.
// Returns ErrDuplicateURL if an active (pending or processing) entry for
// the same URL already exists.
func (r *CrawlQueueRepository) Enqueue(ctx context.Context, params EnqueueParams) (string, error) {
	if !domain.ValidTier(params.PriorityTier) {
		return "", fmt.Errorf("invalid priority tier: %q", params.PriorityTier)
	}

	id := uuid.NewString()
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	scheduled := params.ScheduledTime
	if scheduled.IsZero() {
		scheduled = time.Now().UTC()
	}

	query := `
		INSERT INTO crawl_queue (
			id, url, domain, source_agency, metadata,
			priority_tier, priority_score, status, scheduled_time, attempts, max_attempts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, 0, $9)
	`

	_, err := r.db.ExecContext(
		ctx, query,
		id, params.URL, params.Domain, params.SourceAgency, params.Metadata,
		params.PriorityTier, params.PriorityScore, scheduled, maxAttempts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateURL, params.URL)
		}
		return "", fmt.Errorf("failed to enqueue URL: %w", err)
	}

	return id, nil
}

// ClaimNext atomically claims the highest-priority eligible entry.
// Returns ErrNoItemAvailable when the queue has nothing eligible.
func (r *CrawlQueueRepository) ClaimNext(ctx context.Context) (*domain.CrawlEntry, error) {
	return claimNext[domain.CrawlEntry](ctx, r.db, r.spec)
}

// Complete transitions a claimed entry to completed and links it to the
// document record it produced. Idempotent: completing an already
// completed entry is a no-op.
func (r *CrawlQueueRepository) Complete(ctx context.Context, id, contextID string) error {
	query := `
		UPDATE crawl_queue
		SET status = 'completed',
			completed_at = NOW(),
			context_id = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, execErr := r.db.ExecContext(ctx, query, id, contextID)
	if execErr != nil {
		return fmt.Errorf("failed to complete crawl entry: %w", execErr)
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

// Fail applies a retry decision to a claimed entry: requeue with backoff
// or terminal failure once the retry budget is exhausted.
func (r *CrawlQueueRepository) Fail(ctx context.Context, id, lastError string, d retry.Decision) error {
	return failItem(ctx, r.db, r.spec, id, lastError, d)
}

// SweepOrphans requeues or terminally fails entries stuck in processing
// longer than staleAfter, feeding each through the shared retry policy.
func (r *CrawlQueueRepository) SweepOrphans(ctx context.Context, staleAfter time.Duration, policy retry.Policy) (int, error) {
	return sweepOrphans(ctx, r.db, r.spec, staleAfter, policy)
}

// Stats returns aggregate entry counts grouped by status.
func (r *CrawlQueueRepository) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return queueStats(ctx, r.db, r.spec)
}

// PurgeTerminal deletes completed and failed entries whose last update
// is older than olderThan. Returns the number of entries deleted.
func (r *CrawlQueueRepository) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	return purgeTerminal(ctx, r.db, r.spec, olderThan)
}
