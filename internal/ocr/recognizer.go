// Package ocr implements the OCR worker loop: claim an asset entry,
// download its bytes from blob storage, run text recognition, fold the
// recognized text into the parent document, and roll sibling state up
// into the document's OCR summary.
package ocr

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Result is the outcome of recognizing one asset.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer extracts text from asset bytes. The production engine is an
// external collaborator reached over its own transport; PassthroughRecognizer
// serves assets whose bytes already carry extractable text.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, assetType string) (*Result, error)
}

// PassthroughRecognizer treats asset bytes as UTF-8 text. Useful for
// text-bearing assets and as the default when no engine is configured.
type PassthroughRecognizer struct{}

// Recognize returns the asset bytes as text when they are valid UTF-8.
func (PassthroughRecognizer) Recognize(_ context.Context, data []byte, assetType string) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("asset type %s is not text-extractable without an OCR engine", assetType)
	}
	return &Result{Text: strings.TrimSpace(string(data)), Confidence: 1.0}, nil
}
