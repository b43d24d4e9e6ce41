package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/NightMareKD/crawler-medicine/internal/domain"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
)

// tierRankSQL orders priority tiers for dispatch. Unknown tiers sort
// last so malformed rows never jump the queue.
const tierRankSQL = `CASE priority_tier
		WHEN 'critical' THEN 4
		WHEN 'high' THEN 3
		WHEN 'medium' THEN 2
		WHEN 'low' THEN 1
		ELSE 0
	END`

// queueSpec describes one work queue table for the shared lifecycle
// operations.
type queueSpec struct {
	table   string
	columns string
}

// claimNext atomically claims the highest-priority eligible pending item:
// a locked select (SKIP LOCKED) plus a status update in one transaction,
// so concurrent workers can never claim the same item. Returns
// ErrNoItemAvailable when nothing is eligible.
func claimNext[T any, PT interface {
	*T
	Item() *domain.WorkItem
}](ctx context.Context, db *sqlx.DB, spec queueSpec) (PT, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `
		SELECT ` + spec.columns + `
		FROM ` + spec.table + `
		WHERE status = 'pending'
		  AND scheduled_time <= NOW()
		ORDER BY ` + tierRankSQL + ` DESC, priority_score DESC, scheduled_time ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var entry T
	selectErr := tx.GetContext(ctx, &entry, query)
	if selectErr != nil {
		if errors.Is(selectErr, sql.ErrNoRows) {
			return nil, ErrNoItemAvailable
		}
		return nil, fmt.Errorf("failed to select claimable item: %w", selectErr)
	}

	item := PT(&entry).Item()

	update := `
		UPDATE ` + spec.table + `
		SET status = 'processing',
			attempts = attempts + 1,
			processing_started_at = NOW(),
			last_attempt_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`
	if _, updateErr := tx.ExecContext(ctx, update, item.ID); updateErr != nil {
		return nil, fmt.Errorf("failed to update claimed item status: %w", updateErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", commitErr)
	}

	now := time.Now().UTC()
	item.Status = domain.StatusProcessing
	item.Attempts++
	item.ProcessingStartedAt = &now
	item.LastAttemptAt = &now

	return &entry, nil
}

// resolveCompleteConflict distinguishes the three ways a complete update
// can affect zero rows: the item is already completed (idempotent no-op),
// it does not exist, or it is in a state completion is not valid from.
func resolveCompleteConflict(ctx context.Context, db *sqlx.DB, spec queueSpec, id string) error {
	var status string
	err := db.GetContext(ctx, &status, `SELECT status FROM `+spec.table+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read item status: %w", err)
	}

	if status == domain.StatusCompleted {
		return nil
	}
	return fmt.Errorf("%w: complete on %q item %s", ErrInvalidTransition, status, id)
}

// failItem applies a retry decision to an item the calling worker holds
// in processing: either requeue with backoff or terminal failure. The
// status guard catches completion/failure of items the caller no longer
// owns.
func failItem(ctx context.Context, db *sqlx.DB, spec queueSpec, id, lastError string, d retry.Decision) error {
	var query string
	var args []any

	if d.Terminal {
		query = `
			UPDATE ` + spec.table + `
			SET status = 'failed',
				failed_at = NOW(),
				last_error = $2,
				last_attempt_at = NOW(),
				updated_at = NOW()
			WHERE id = $1 AND status = 'processing'
		`
		args = []any{id, lastError}
	} else {
		query = `
			UPDATE ` + spec.table + `
			SET status = 'pending',
				scheduled_time = NOW() + ($3 * INTERVAL '1 millisecond'),
				last_error = $2,
				last_attempt_at = NOW(),
				updated_at = NOW()
			WHERE id = $1 AND status = 'processing'
		`
		args = []any{id, lastError, d.Delay.Milliseconds()}
	}

	result, execErr := db.ExecContext(ctx, query, args...)
	return execRequireRows(result, execErr,
		fmt.Errorf("%w: fail on item %s", ErrInvalidTransition, id))
}

// staleItem is one processing row picked up by the orphan sweep.
type staleItem struct {
	ID          string `db:"id"`
	Attempts    int    `db:"attempts"`
	MaxAttempts int    `db:"max_attempts"`
}

// sweepOrphans recovers items stuck in processing longer than staleAfter
// (their worker crashed or was shut down mid-item). Each orphan is fed
// through the same retry policy as an ordinary failure. Returns the
// number of items recovered.
func sweepOrphans(ctx context.Context, db *sqlx.DB, spec queueSpec, staleAfter time.Duration, policy retry.Policy) (int, error) {
	query := `
		SELECT id, attempts, max_attempts
		FROM ` + spec.table + `
		WHERE status = 'processing'
		  AND processing_started_at < NOW() - ($1 * INTERVAL '1 millisecond')
	`

	var stale []staleItem
	if err := db.SelectContext(ctx, &stale, query, staleAfter.Milliseconds()); err != nil {
		return 0, fmt.Errorf("failed to select orphaned items: %w", err)
	}

	recovered := 0
	for _, item := range stale {
		d := policy.Decide(item.Attempts, item.MaxAttempts)
		failErr := failItem(ctx, db, spec, item.ID, "orphaned: processing exceeded staleness threshold", d)
		if failErr != nil {
			// Lost a race with the owning worker finishing late. Fine.
			if errors.Is(failErr, ErrInvalidTransition) {
				continue
			}
			return recovered, failErr
		}
		recovered++
	}

	return recovered, nil
}

// purgeTerminal deletes completed and failed items whose last update is
// older than olderThan. Active items are never touched; the audit log
// keeps its own record of what happened to them.
func purgeTerminal(ctx context.Context, db *sqlx.DB, spec queueSpec, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM ` + spec.table + `
		WHERE status IN ('completed', 'failed')
		  AND updated_at < NOW() - ($1 * INTERVAL '1 millisecond')
	`

	result, err := db.ExecContext(ctx, query, olderThan.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal items: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return 0, affectedErr
	}
	return n, nil
}

// queueStats returns aggregate counts of queue items grouped by status.
func queueStats(ctx context.Context, db *sqlx.DB, spec queueSpec) (*domain.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM ` + spec.table + ` GROUP BY status`

	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan queue stats row: %w", scanErr)
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
		return nil, fmt.Errorf("failed to iterate queue stats: %w", rowsErr)
	}

	return stats, nil
}
