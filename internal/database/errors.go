package database

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNoItemAvailable is returned by claim operations when no eligible
// pending item exists. Not an error condition for workers; they back
// off and poll again. Check with errors.Is().
var ErrNoItemAvailable = errors.New("no work item available")

// ErrDuplicateURL is returned when enqueueing a URL that already has an
// active (pending or processing) crawl queue entry.
var ErrDuplicateURL = errors.New("url already queued")

// ErrDuplicateAsset is returned when enqueueing an OCR entry for a
// (context_id, storage_path) pair that already has an active entry.
var ErrDuplicateAsset = errors.New("asset already queued")

// ErrNotFound is returned when an operation references an id that does
// not exist.
var ErrNotFound = errors.New("work item not found")

// ErrInvalidTransition is returned when a lifecycle operation targets an
// item that is not in the state the operation requires (for example
// completing an item that was never claimed). This indicates a
// programming error, not a business retry.
var ErrInvalidTransition = errors.New("invalid work item state transition")

// pqUniqueViolation is the Postgres error code for unique constraint
// violations, raised by the partial unique indexes that enforce
// queue-level deduplication.
const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
