// Package fingerprint computes stable content hashes used for
// duplicate detection of re-crawled documents.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize canonicalizes text so that cosmetic differences (case,
// punctuation, whitespace) do not change the fingerprint.
func Normalize(text string) string {
	text = strings.ToLower(text)

	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			return r
		}
		return -1
	}, text)

	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Hash returns the hex-encoded SHA-256 of content.
func Hash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// Fingerprint normalizes text and hashes it. Equal normalized content
// always yields an equal fingerprint.
func Fingerprint(text string) string {
	return Hash([]byte(Normalize(text)))
}
