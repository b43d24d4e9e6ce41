package domain

import "time"

// Processing stage keys in a document's processing_status map. Values
// are one of pending, completed, partial, or failed. The annotate stage
// is owned by the external annotation pipeline; this core only creates
// the key.
const (
	StageFetch     = "fetch"
	StageSegregate = "segregate"
	StageOCR       = "ocr"
	StageAnnotate  = "annotate"
)

// Processing stage values.
const (
	StagePending   = "pending"
	StageCompleted = "completed"
	StagePartial   = "partial"
	StageFailed    = "failed"
)

// Document is the canonical record produced by successfully ingesting
// one URL, stored in raw_ingest.
type Document struct {
	ID      string `db:"id"      json:"id"`
	URL     string `db:"url"     json:"url"`
	Content string `db:"content" json:"content"`

	// Provenance holds fetch metadata: source agency, fetch timestamp,
	// transport status.
	Provenance JSONBMap `db:"provenance" json:"provenance,omitempty"`

	// Metadata is the free-form bag carried over from the crawl queue entry.
	Metadata JSONBMap `db:"metadata" json:"metadata,omitempty"`

	// ProcessingStatus maps stage name to completion state.
	ProcessingStatus JSONBMap `db:"processing_status" json:"processing_status,omitempty"`

	// Assets maps asset id to {storage_path, asset_type, ...}; AssetCounts
	// holds per-type totals.
	Assets      JSONBMap `db:"assets"       json:"assets,omitempty"`
	AssetCounts JSONBMap `db:"asset_counts" json:"asset_counts,omitempty"`

	// OCR aggregates recognition state across the document's child assets.
	OCR JSONBMap `db:"ocr" json:"ocr,omitempty"`

	// Annotations is written by the external annotation pipeline
	// (detected_language, entities, intent, domain). Never interpreted here.
	Annotations JSONBMap `db:"annotations" json:"annotations,omitempty"`

	ContentHash string `db:"content_hash" json:"content_hash"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
