package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/NightMareKD/crawler-medicine/internal/domain"
)

// ErrDocumentNotFound is returned when no document record exists for the
// given id or content hash.
var ErrDocumentNotFound = errors.New("document record not found")

// documentColumns lists columns for SELECT queries on raw_ingest.
const documentColumns = `id, url, content, provenance, metadata, processing_status,
	assets, asset_counts, ocr, annotations, content_hash, created_at, updated_at`

// DocumentRepository handles database operations for document records
// (the raw_ingest table).
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Upsert inserts or replaces a document record keyed by id.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO raw_ingest (
			id, url, content, provenance, metadata, processing_status,
			assets, asset_counts, ocr, annotations, content_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			content = EXCLUDED.content,
			provenance = EXCLUDED.provenance,
			metadata = EXCLUDED.metadata,
			processing_status = EXCLUDED.processing_status,
			assets = EXCLUDED.assets,
			asset_counts = EXCLUDED.asset_counts,
			content_hash = EXCLUDED.content_hash,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(
		ctx, query,
		doc.ID, doc.URL, doc.Content, doc.Provenance, doc.Metadata, doc.ProcessingStatus,
		doc.Assets, doc.AssetCounts, doc.OCR, doc.Annotations, doc.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document record: %w", err)
	}

	return nil
}

// Get returns the document record with the given id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	query := `SELECT ` + documentColumns + ` FROM raw_ingest WHERE id = $1`

	err := r.db.GetContext(ctx, &doc, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document record: %w", err)
	}

	return &doc, nil
}

// FindByContentHash returns the existing document carrying the given
// fingerprint, or ErrDocumentNotFound. Used for the dedup short-circuit
// before segregation.
func (r *DocumentRepository) FindByContentHash(ctx context.Context, hash string) (*domain.Document, error) {
	var doc domain.Document
	query := `SELECT ` + documentColumns + ` FROM raw_ingest WHERE content_hash = $1 LIMIT 1`

	err := r.db.GetContext(ctx, &doc, query, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: hash %s", ErrDocumentNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document by content hash: %w", err)
	}

	return &doc, nil
}

// UpdateAssets replaces a document's asset manifest and counts.
func (r *DocumentRepository) UpdateAssets(ctx context.Context, id string, assets, assetCounts domain.JSONBMap) error {
	query := `
		UPDATE raw_ingest
		SET assets = $2, asset_counts = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, execErr := r.db.ExecContext(ctx, query, id, assets, assetCounts)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrDocumentNotFound, id))
}

// UpdateOCR replaces a document's aggregated OCR summary.
func (r *DocumentRepository) UpdateOCR(ctx context.Context, id string, ocr domain.JSONBMap) error {
	query := `
		UPDATE raw_ingest
		SET ocr = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, execErr := r.db.ExecContext(ctx, query, id, ocr)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrDocumentNotFound, id))
}

// AppendContent appends recognized text to a document's content. Used by
// the OCR worker to fold asset text into the canonical record.
func (r *DocumentRepository) AppendContent(ctx context.Context, id, text string) error {
	query := `
		UPDATE raw_ingest
		SET content = content || $2, updated_at = NOW()
		WHERE id = $1
	`

	result, execErr := r.db.ExecContext(ctx, query, id, text)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrDocumentNotFound, id))
}

// UpdateProcessingStage sets one stage key in a document's
// processing_status map, leaving the other stages untouched.
func (r *DocumentRepository) UpdateProcessingStage(ctx context.Context, id, stage, state string) error {
	query := `
		UPDATE raw_ingest
		SET processing_status = COALESCE(processing_status, '{}'::jsonb) || jsonb_build_object($2::text, $3::text),
			updated_at = NOW()
		WHERE id = $1
	`

	result, execErr := r.db.ExecContext(ctx, query, id, stage, state)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrDocumentNotFound, id))
}

// Count returns the total number of document records.
func (r *DocumentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM raw_ingest`); err != nil {
		return 0, fmt.Errorf("failed to count document records: %w", err)
	}
	return count, nil
}
