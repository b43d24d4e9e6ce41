package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NightMareKD/crawler-medicine/internal/database"
	"github.com/NightMareKD/crawler-medicine/internal/domain"
	"github.com/NightMareKD/crawler-medicine/internal/fingerprint"
	"github.com/NightMareKD/crawler-medicine/internal/ingest"
	"github.com/NightMareKD/crawler-medicine/internal/logger"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
	"github.com/NightMareKD/crawler-medicine/internal/segregate"
)

type completion struct {
	id        string
	contextID string
}

type failure struct {
	id       string
	decision retry.Decision
	lastErr  string
}

type fakeCrawlQueue struct {
	entries     []*domain.CrawlEntry
	completions []completion
	failures    []failure
}

func (f *fakeCrawlQueue) ClaimNext(context.Context) (*domain.CrawlEntry, error) {
	if len(f.entries) == 0 {
		return nil, database.ErrNoItemAvailable
	}
	entry := f.entries[0]
	f.entries = f.entries[1:]
	entry.Status = domain.StatusProcessing
	entry.Attempts++
	return entry, nil
}

func (f *fakeCrawlQueue) Complete(_ context.Context, id, contextID string) error {
	f.completions = append(f.completions, completion{id: id, contextID: contextID})
	return nil
}

func (f *fakeCrawlQueue) Fail(_ context.Context, id, lastError string, d retry.Decision) error {
	f.failures = append(f.failures, failure{id: id, decision: d, lastErr: lastError})
	return nil
}

type fakeDocStore struct {
	byHash   map[string]*domain.Document
	upserted []*domain.Document
}

func (f *fakeDocStore) Upsert(_ context.Context, doc *domain.Document) error {
	f.upserted = append(f.upserted, doc)
	return nil
}

func (f *fakeDocStore) FindByContentHash(_ context.Context, hash string) (*domain.Document, error) {
	if doc, ok := f.byHash[hash]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("%w: hash %s", database.ErrDocumentNotFound, hash)
}

type fakeSegregator struct {
	calls    []segregate.Params
	manifest *segregate.Manifest
	err      error
}

func (f *fakeSegregator) Segregate(_ context.Context, params segregate.Params) (*segregate.Manifest, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	if f.manifest != nil {
		return f.manifest, nil
	}
	return &segregate.Manifest{Assets: domain.JSONBMap{}, Counts: domain.JSONBMap{}}, nil
}

type fakeAudit struct {
	events []database.RecordParams
}

func (f *fakeAudit) Record(_ context.Context, params database.RecordParams) (string, error) {
	f.events = append(f.events, params)
	return "audit-1", nil
}

func (f *fakeAudit) eventTypes() []string {
	types := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		types = append(types, ev.EventType)
	}
	return types
}

type fakeFetcher struct {
	pages map[string][]byte
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*ingest.FetchResult, error) {
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	content, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("http status 404")
	}
	return &ingest.FetchResult{
		Content:     content,
		ContentType: "text/html",
		StatusCode:  200,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

type harness struct {
	queue      *fakeCrawlQueue
	documents  *fakeDocStore
	segregator *fakeSegregator
	audit      *fakeAudit
	fetcher    *fakeFetcher
	pool       *ingest.WorkerPool
}

func newHarness(entries ...*domain.CrawlEntry) *harness {
	h := &harness{
		queue:      &fakeCrawlQueue{entries: entries},
		documents:  &fakeDocStore{byHash: map[string]*domain.Document{}},
		segregator: &fakeSegregator{},
		audit:      &fakeAudit{},
		fetcher:    &fakeFetcher{pages: map[string][]byte{}, errs: map[string]error{}},
	}
	h.pool = ingest.NewWorkerPool(
		h.queue, h.documents, h.segregator, h.audit, h.fetcher,
		retry.Default(), logger.NewNoop(),
		ingest.Config{WorkerCount: 1, ClaimRetryDelay: time.Millisecond},
	)
	return h
}

func crawlEntry(id, url string, attempts, maxAttempts int) *domain.CrawlEntry {
	entry := &domain.CrawlEntry{
		URL:          url,
		Domain:       "example.com",
		SourceAgency: "agency-1",
	}
	entry.ID = id
	entry.PriorityTier = domain.TierMedium
	entry.Status = domain.StatusPending
	entry.Attempts = attempts
	entry.MaxAttempts = maxAttempts
	return entry
}

func TestRunCycles_IngestsNewContent(t *testing.T) {
	h := newHarness(crawlEntry("entry-1", "https://example.com/a", 0, 3))
	h.fetcher.pages["https://example.com/a"] = []byte("<html><body>Notice text</body></html>")
	h.segregator.manifest = &segregate.Manifest{
		Assets:   domain.JSONBMap{"asset-000": map[string]any{"status": "uploaded"}},
		Counts:   domain.JSONBMap{domain.AssetTypeImage: 1},
		Enqueued: 1,
	}

	processed, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, h.documents.upserted, 1)
	doc := h.documents.upserted[0]
	assert.Equal(t, "https://example.com/a", doc.URL)
	assert.NotEmpty(t, doc.ContentHash)
	assert.Equal(t, domain.StageCompleted, doc.ProcessingStatus[domain.StageFetch])
	assert.Equal(t, domain.StagePending, doc.ProcessingStatus[domain.StageOCR],
		"enqueued assets leave the ocr stage pending")
	assert.Equal(t, domain.StagePending, doc.ProcessingStatus[domain.StageAnnotate])

	require.Len(t, h.queue.completions, 1)
	assert.Equal(t, "entry-1", h.queue.completions[0].id)
	assert.Equal(t, doc.ID, h.queue.completions[0].contextID)

	assert.Equal(t, []string{domain.EventCrawlCompleted}, h.audit.eventTypes())
}

func TestRunCycles_DuplicateContentShortCircuits(t *testing.T) {
	const page = "<html><body>Same notice text</body></html>"
	existing := &domain.Document{ID: "doc-prior", ContentHash: fingerprint.Fingerprint(page)}

	h := newHarness(crawlEntry("entry-1", "https://mirror.example.com/a", 0, 3))
	h.fetcher.pages["https://mirror.example.com/a"] = []byte(page)
	h.documents.byHash[existing.ContentHash] = existing

	processed, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// No segregation, no new document; the entry completes against the
	// existing record.
	assert.Empty(t, h.segregator.calls)
	assert.Empty(t, h.documents.upserted)
	require.Len(t, h.queue.completions, 1)
	assert.Equal(t, "doc-prior", h.queue.completions[0].contextID)
	assert.Equal(t, []string{domain.EventDuplicateSkipped}, h.audit.eventTypes())
}

func TestRunCycles_FetchFailureRequeues(t *testing.T) {
	h := newHarness(crawlEntry("entry-1", "https://example.com/flaky", 0, 3))
	h.fetcher.errs["https://example.com/flaky"] = errors.New("connection timeout")

	processed, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, h.queue.failures, 1)
	f := h.queue.failures[0]
	assert.False(t, f.decision.Terminal)
	assert.Equal(t, retry.DefaultBase, f.decision.Delay, "first retry waits the base backoff")
	assert.Contains(t, f.lastErr, "connection timeout")
	assert.Equal(t, []string{domain.EventCrawlFailed}, h.audit.eventTypes())
}

func TestRunCycles_FetchFailureTerminalAtBudget(t *testing.T) {
	// Claimed for the third time against a budget of 3.
	h := newHarness(crawlEntry("entry-1", "https://example.com/broken", 2, 3))
	h.fetcher.errs["https://example.com/broken"] = errors.New("http status 500")

	processed, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, h.queue.failures, 1)
	assert.True(t, h.queue.failures[0].decision.Terminal)
	assert.Empty(t, h.queue.completions)
}

func TestRunCycles_SegregateFailureRequeues(t *testing.T) {
	h := newHarness(crawlEntry("entry-1", "https://example.com/a", 0, 3))
	h.fetcher.pages["https://example.com/a"] = []byte("<html></html>")
	h.segregator.err = errors.New("blob storage unavailable")

	processed, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, h.queue.failures, 1)
	assert.False(t, h.queue.failures[0].decision.Terminal)
	assert.Empty(t, h.documents.upserted)
}

func TestRunCycles_PartialSegregationMarksStage(t *testing.T) {
	h := newHarness(crawlEntry("entry-1", "https://example.com/a", 0, 3))
	h.fetcher.pages["https://example.com/a"] = []byte("<html></html>")
	h.segregator.manifest = &segregate.Manifest{
		Assets:   domain.JSONBMap{},
		Counts:   domain.JSONBMap{},
		Enqueued: 0,
		Partial:  true,
	}

	_, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)

	require.Len(t, h.documents.upserted, 1)
	doc := h.documents.upserted[0]
	assert.Equal(t, domain.StagePartial, doc.ProcessingStatus[domain.StageSegregate])
	assert.Equal(t, domain.StageCompleted, doc.ProcessingStatus[domain.StageOCR],
		"no enqueued assets means nothing left for the ocr stage")
}

func TestRunCycles_StopsOnEmptyQueue(t *testing.T) {
	h := newHarness()

	processed, err := h.pool.RunCycles(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestRunCycles_ProcessesEntriesInClaimOrder(t *testing.T) {
	h := newHarness(
		crawlEntry("entry-b", "https://example.com/b", 0, 3),
		crawlEntry("entry-a", "https://example.com/a", 0, 3),
		crawlEntry("entry-c", "https://example.com/c", 0, 3),
	)
	h.fetcher.pages["https://example.com/a"] = []byte("page a")
	h.fetcher.pages["https://example.com/b"] = []byte("page b")
	h.fetcher.pages["https://example.com/c"] = []byte("page c")

	processed, err := h.pool.RunCycles(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	// The store decides dispatch order; the worker preserves it.
	ids := make([]string, 0, len(h.queue.completions))
	for _, c := range h.queue.completions {
		ids = append(ids, c.id)
	}
	assert.Equal(t, []string{"entry-b", "entry-a", "entry-c"}, ids)
}
