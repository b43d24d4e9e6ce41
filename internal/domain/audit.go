package domain

import "time"

// Audit event types emitted by the ingestion and OCR workers.
const (
	EventCrawlCompleted   = "crawl_completed"
	EventCrawlFailed      = "crawl_failed"
	EventDuplicateSkipped = "duplicate_skipped"
	EventOCRCompleted     = "ocr_completed"
	EventOCRFailed        = "ocr_failed"
	EventAssetUploaded    = "asset_uploaded"
	EventAssetFailed      = "asset_upload_failed"
	EventOrphanRequeued   = "orphan_requeued"
)

// AuditEvent is an append-only record in audit_logs. Events are never
// updated or deleted.
type AuditEvent struct {
	ID         string    `db:"id"          json:"id"`
	EventType  string    `db:"event_type"  json:"event_type"`
	DocumentID string    `db:"document_id" json:"document_id"`
	URL        *string   `db:"url"         json:"url,omitempty"`
	Success    bool      `db:"success"     json:"success"`
	Timestamp  time.Time `db:"timestamp"   json:"timestamp"`
	Details    JSONBMap  `db:"details"     json:"details,omitempty"`
}
