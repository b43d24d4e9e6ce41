// Package domain provides domain models used across the application.
package domain

import "time"

// Work item status constants. Pending items are eligible for claim once
// scheduled_time has passed; completed and failed are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Priority tier constants, ordered from most to least urgent.
const (
	TierCritical = "critical"
	TierHigh     = "high"
	TierMedium   = "medium"
	TierLow      = "low"
)

// DefaultMaxAttempts is the retry budget applied when callers do not
// supply one at enqueue time.
const DefaultMaxAttempts = 3

// tierRanks maps priority tiers to their dispatch ordering. Higher
// ranks dispatch first.
var tierRanks = map[string]int{
	TierCritical: 4,
	TierHigh:     3,
	TierMedium:   2,
	TierLow:      1,
}

// TierRank returns the dispatch rank for a priority tier. Unknown tiers
// rank below low so malformed input never jumps the queue.
func TierRank(tier string) int {
	return tierRanks[tier]
}

// ValidTier reports whether tier is a recognized priority tier.
func ValidTier(tier string) bool {
	_, ok := tierRanks[tier]
	return ok
}

// WorkItem is the lifecycle state shared by crawl queue and OCR queue
// entries. Both entry types embed it so the claim/retry/complete state
// machine is written once.
type WorkItem struct {
	ID            string  `db:"id"             json:"id"`
	PriorityTier  string  `db:"priority_tier"  json:"priority_tier"`
	PriorityScore float64 `db:"priority_score" json:"priority_score"`
	Status        string  `db:"status"         json:"status"`

	ScheduledTime time.Time `db:"scheduled_time" json:"scheduled_time"`
	Attempts      int       `db:"attempts"       json:"attempts"`
	MaxAttempts   int       `db:"max_attempts"   json:"max_attempts"`

	ProcessingStartedAt *time.Time `db:"processing_started_at" json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `db:"completed_at"          json:"completed_at,omitempty"`
	FailedAt            *time.Time `db:"failed_at"             json:"failed_at,omitempty"`
	LastAttemptAt       *time.Time `db:"last_attempt_at"       json:"last_attempt_at,omitempty"`
	LastError           *string    `db:"last_error"            json:"last_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the item is in a terminal state.
func (w *WorkItem) Terminal() bool {
	return w.Status == StatusCompleted || w.Status == StatusFailed
}

// Item returns the embedded lifecycle state. Promoted through embedding,
// it lets the shared queue machinery operate on either entry type.
func (w *WorkItem) Item() *WorkItem {
	return w
}

// CrawlEntry is a URL-level work item in the crawl queue.
type CrawlEntry struct {
	WorkItem

	URL          string   `db:"url"           json:"url"`
	Domain       string   `db:"domain"        json:"domain"`
	SourceAgency string   `db:"source_agency" json:"source_agency"`
	Metadata     JSONBMap `db:"metadata"      json:"metadata,omitempty"`

	// ContextID links a completed entry to the document record it produced.
	ContextID *string `db:"context_id" json:"context_id,omitempty"`
}

// Asset type constants for OCR queue entries.
const (
	AssetTypeImage   = "image"
	AssetTypePDFPage = "pdf-page"
	AssetTypeScan    = "scan"
)

// OCREntry is an asset-level work item in the OCR queue.
type OCREntry struct {
	WorkItem

	ContextID   string `db:"context_id"   json:"context_id"`
	StoragePath string `db:"storage_path" json:"storage_path"`
	AssetType   string `db:"asset_type"   json:"asset_type"`
}

// QueueStats contains aggregate counts by status for a work queue.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
