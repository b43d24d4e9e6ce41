package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/NightMareKD/crawler-medicine/internal/domain"
)

// AuditRepository appends events to the audit_logs table. Events are
// never updated or deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordParams contains the parameters for appending an audit event.
type RecordParams struct {
	EventType  string
	DocumentID string
	URL        string
	Success    bool
	Details    domain.JSONBMap
}

// Record appends one audit event and returns its id.
func (r *AuditRepository) Record(ctx context.Context, params RecordParams) (string, error) {
	id := uuid.NewString()

	query := `
		INSERT INTO audit_logs (id, event_type, document_id, url, success, timestamp, details)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW(), $6)
	`

	_, err := r.db.ExecContext(
		ctx, query,
		id, params.EventType, params.DocumentID, params.URL, params.Success, params.Details,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record audit event: %w", err)
	}

	return id, nil
}

// ListRecent returns the most recent audit events, newest first.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, event_type, document_id, url, success, timestamp, details
		FROM audit_logs
		ORDER BY timestamp DESC
		LIMIT $1
	`

	var events []*domain.AuditEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	if events == nil {
		events = []*domain.AuditEvent{}
	}
	return events, nil
}
