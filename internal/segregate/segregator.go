// Package segregate separates binary assets (PDFs, images, scans) from a
// fetched document's structured text and routes them to OCR.
package segregate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/NightMareKD/crawler-medicine/internal/blob"
	"github.com/NightMareKD/crawler-medicine/internal/database"
	"github.com/NightMareKD/crawler-medicine/internal/domain"
	"github.com/NightMareKD/crawler-medicine/internal/logger"
)

// Downloader fetches asset bytes from a URL. Returns the body and the
// reported content type.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (data []byte, contentType string, err error)
}

// Uploader writes asset bytes to blob storage and returns a stable
// storage path.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// Enqueuer creates OCR queue entries for uploaded assets.
type Enqueuer interface {
	Enqueue(ctx context.Context, params database.EnqueueOCRParams) (string, error)
}

// Asset status values recorded in the manifest.
const (
	assetStatusUploaded = "uploaded"
	assetStatusFailed   = "failed"
)

// Manifest summarizes one segregation pass over a document.
type Manifest struct {
	// Assets maps asset id to its storage path, type, source URL, and
	// upload status. Stored on the document record verbatim.
	Assets domain.JSONBMap

	// Counts holds per-type totals of successfully uploaded assets.
	Counts domain.JSONBMap

	// Enqueued is the number of OCR queue entries created.
	Enqueued int

	// Partial is true when at least one asset failed to download or
	// upload. A partial pass never fails the parent document.
	Partial bool
}

// Segregator extracts embedded binary assets from fetched HTML, uploads
// them to blob storage, and enqueues one OCR queue entry per asset.
type Segregator struct {
	downloader Downloader
	uploader   Uploader
	ocrQueue   Enqueuer
	logger     logger.Interface
}

// NewSegregator creates a new asset segregator.
func NewSegregator(downloader Downloader, uploader Uploader, ocrQueue Enqueuer, log logger.Interface) *Segregator {
	return &Segregator{
		downloader: downloader,
		uploader:   uploader,
		ocrQueue:   ocrQueue,
		logger:     log.WithComponent("segregator"),
	}
}

// Params describes the document being segregated.
type Params struct {
	DocumentID string
	BaseURL    string
	HTML       []byte

	// PriorityTier and PriorityScore are inherited by the OCR entries so
	// urgent documents get their assets recognized first.
	PriorityTier  string
	PriorityScore float64
	MaxAttempts   int
}

// Segregate identifies embedded assets in the document, uploads each to
// blob storage under a deterministic path, and enqueues OCR work for it.
// A single asset failure is recorded in the manifest and does not abort
// the pass.
func (s *Segregator) Segregate(ctx context.Context, params Params) (*Manifest, error) {
	refs, err := discoverAssets(params.BaseURL, params.HTML)
	if err != nil {
		return nil, fmt.Errorf("failed to discover assets: %w", err)
	}

	manifest := &Manifest{
		Assets: domain.JSONBMap{},
		Counts: domain.JSONBMap{},
	}
	counts := map[string]int{}

	for ordinal, ref := range refs {
		entry, procErr := s.processAsset(ctx, params, ordinal, ref)
		assetID := fmt.Sprintf("asset-%03d", ordinal)
		if procErr != nil {
			manifest.Partial = true
			manifest.Assets[assetID] = map[string]any{
				"source_url": ref.URL,
				"asset_type": ref.Type,
				"status":     assetStatusFailed,
				"error":      procErr.Error(),
			}
			s.logger.Warn("asset segregation failed",
				"document_id", params.DocumentID,
				"url", ref.URL,
				"error", procErr.Error(),
			)
			continue
		}

		manifest.Assets[assetID] = entry
		counts[ref.Type]++
		if entry["queued"] == true {
			manifest.Enqueued++
		}
	}

	for assetType, n := range counts {
		manifest.Counts[assetType] = n
	}

	s.logger.Info("segregation pass finished",
		"document_id", params.DocumentID,
		"assets", len(refs),
		"enqueued", manifest.Enqueued,
		"partial", manifest.Partial,
	)

	return manifest, nil
}

// processAsset downloads, uploads, and enqueues a single asset.
func (s *Segregator) processAsset(ctx context.Context, params Params, ordinal int, ref assetRef) (map[string]any, error) {
	data, contentType, dlErr := s.downloader.Download(ctx, ref.URL)
	if dlErr != nil {
		return nil, fmt.Errorf("download: %w", dlErr)
	}

	storagePath := objectPath(params.DocumentID, ordinal, ref)

	uploaded, upErr := s.uploader.Upload(ctx, storagePath, data, contentType)
	if upErr != nil {
		return nil, fmt.Errorf("upload: %w", upErr)
	}

	entry := map[string]any{
		"source_url":   ref.URL,
		"asset_type":   ref.Type,
		"storage_path": uploaded,
		"size_bytes":   len(data),
		"status":       assetStatusUploaded,
		"queued":       false,
	}

	_, enqErr := s.ocrQueue.Enqueue(ctx, database.EnqueueOCRParams{
		ContextID:     params.DocumentID,
		StoragePath:   uploaded,
		AssetType:     ref.Type,
		PriorityTier:  params.PriorityTier,
		PriorityScore: params.PriorityScore,
		MaxAttempts:   params.MaxAttempts,
	})
	switch {
	case enqErr == nil:
		entry["queued"] = true
	case errors.Is(enqErr, database.ErrDuplicateAsset):
		// Re-segregation of a document whose asset is already queued.
	default:
		return nil, fmt.Errorf("enqueue ocr: %w", enqErr)
	}

	return entry, nil
}

// pathPrefixes maps asset types to their storage path prefix.
var pathPrefixes = map[string]string{
	domain.AssetTypePDFPage: "pdfs-raw",
	domain.AssetTypeImage:   "images-raw",
	domain.AssetTypeScan:    "scans-raw",
}

// objectPath builds the deterministic storage path for an asset, keyed
// by document id and asset ordinal so retried uploads overwrite rather
// than duplicate.
func objectPath(documentID string, ordinal int, ref assetRef) string {
	name := path.Base(strings.SplitN(ref.URL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "asset"
	}
	return fmt.Sprintf("%s/%s/%03d_%s",
		pathPrefixes[ref.Type], documentID, ordinal, blob.SanitizeObjectName(name))
}

// assetRef is one binary asset discovered in a document.
type assetRef struct {
	URL  string
	Type string
}

// extensionTypes classifies asset URLs by file extension.
var extensionTypes = map[string]string{
	".pdf":  domain.AssetTypePDFPage,
	".jpg":  domain.AssetTypeImage,
	".jpeg": domain.AssetTypeImage,
	".png":  domain.AssetTypeImage,
	".gif":  domain.AssetTypeImage,
	".bmp":  domain.AssetTypeImage,
	".webp": domain.AssetTypeImage,
	".tif":  domain.AssetTypeScan,
	".tiff": domain.AssetTypeScan,
}

// ClassifyAssetType maps a URL to an asset type, or "" for URLs that are
// not recognizable binary assets.
func ClassifyAssetType(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return extensionTypes[strings.ToLower(path.Ext(parsed.Path))]
}

// discoverAssets parses HTML and collects linked and embedded binary
// assets, resolved against the document's base URL. Order is stable
// (document order, links before images) so asset ordinals are
// deterministic across re-segregation.
func discoverAssets(baseURL string, html []byte) ([]assetRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var refs []assetRef
	seen := map[string]bool{}

	collect := func(raw string) {
		resolved := resolveURL(base, raw)
		if resolved == "" || seen[resolved] {
			return
		}
		assetType := ClassifyAssetType(resolved)
		if assetType == "" {
			return
		}
		seen[resolved] = true
		refs = append(refs, assetRef{URL: resolved, Type: assetType})
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			collect(href)
		}
	})

	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			collect(src)
		}
	})

	return refs, nil
}

// resolveURL resolves raw against base, returning "" for unusable links.
func resolveURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "data:") {
		return ""
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
