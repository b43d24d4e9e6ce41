package ocr_test

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
	"github.com/NightMareKD/crawler-medicine/internal/logger"
	"github.com/NightMareKD/crawler-medicine/internal/ocr"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
)

type fakeQueue struct {
	entries   []*domain.OCREntry
	completed []string
	failed    map[string]retry.Decision

	// summaries is returned by StatusSummary, updated by the test as
	// entries move through their lifecycle.
	summaries map[string]*domain.QueueStats
}

func (f *fakeQueue) ClaimNext(context.Context) (*domain.OCREntry, error) {
	if len(f.entries) == 0 {
		return nil, database.ErrNoItemAvailable
	}
	entry := f.entries[0]
	f.entries = f.entries[1:]
	entry.Status = domain.StatusProcessing
	entry.Attempts++
	return entry, nil
}

func (f *fakeQueue) Complete(_ context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeQueue) Fail(_ context.Context, id, _ string, d retry.Decision) error {
	if f.failed == nil {
		f.failed = map[string]retry.Decision{}
	}
	f.failed[id] = d
	return nil
}

func (f *fakeQueue) StatusSummary(_ context.Context, contextID string) (*domain.QueueStats, error) {
	if s, ok := f.summaries[contextID]; ok {
		return s, nil
	}
	return &domain.QueueStats{}, nil
}

type fakeDocuments struct {
	appended map[string]string
	ocr      map[string]domain.JSONBMap
	stages   map[string]string
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		appended: map[string]string{},
		ocr:      map[string]domain.JSONBMap{},
		stages:   map[string]string{},
	}
}

func (f *fakeDocuments) AppendContent(_ context.Context, id, text string) error {
	f.appended[id] += text
	return nil
}

func (f *fakeDocuments) UpdateOCR(_ context.Context, id string, m domain.JSONBMap) error {
	f.ocr[id] = m
	return nil
}

func (f *fakeDocuments) UpdateProcessingStage(_ context.Context, id, stage, state string) error {
	f.stages[id+"/"+stage] = state
	return nil
}

type fakeAssets struct {
	objects map[string][]byte
}

func (f *fakeAssets) Download(_ context.Context, path string) ([]byte, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return data, nil
}

type fakeRecognizer struct {
	results map[string]*ocr.Result
	errs    map[string]error
}

func (f *fakeRecognizer) Recognize(_ context.Context, data []byte, _ string) (*ocr.Result, error) {
	key := string(data)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if r, ok := f.results[key]; ok {
		return r, nil
	}
	return &ocr.Result{Text: "recognized: " + key, Confidence: 0.9}, nil
}

type fakeAudit struct {
	events []database.RecordParams
}

func (f *fakeAudit) Record(_ context.Context, params database.RecordParams) (string, error) {
	f.events = append(f.events, params)
	return "audit-1", nil
}

type harness struct {
	queue      *fakeQueue
	documents  *fakeDocuments
	assets     *fakeAssets
	recognizer *fakeRecognizer
	audit      *fakeAudit
	pool       *ocr.WorkerPool
}

func newHarness(entries ...*domain.OCREntry) *harness {
	h := &harness{
		queue:      &fakeQueue{entries: entries, summaries: map[string]*domain.QueueStats{}},
		documents:  newFakeDocuments(),
		assets:     &fakeAssets{objects: map[string][]byte{}},
		recognizer: &fakeRecognizer{results: map[string]*ocr.Result{}, errs: map[string]error{}},
		audit:      &fakeAudit{},
	}
	h.pool = ocr.NewWorkerPool(
		h.queue, h.documents, h.assets, h.recognizer, h.audit,
		retry.Default(), logger.NewNoop(),
		ocr.Config{WorkerCount: 1, ClaimRetryDelay: time.Millisecond},
	)
	return h
}

func ocrEntry(id, contextID, storagePath string, attempts, maxAttempts int) *domain.OCREntry {
	entry := &domain.OCREntry{
		ContextID:   contextID,
		StoragePath: storagePath,
		AssetType:   domain.AssetTypeImage,
	}
	entry.ID = id
	entry.PriorityTier = domain.TierMedium
	entry.Status = domain.StatusPending
	entry.Attempts = attempts
	entry.MaxAttempts = maxAttempts
	return entry
}

func TestRunCycles_RecognizesAndFoldsText(t *testing.T) {
	h := newHarness(ocrEntry("asset-1", "doc-1", "images-raw/doc-1/000_photo.jpg", 0, 3))
	h.assets.objects["images-raw/doc-1/000_photo.jpg"] = []byte("photo bytes")
	h.queue.summaries["doc-1"] = &domain.QueueStats{Completed: 1, Total: 1}

	processed, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	assert.Equal(t, []string{"asset-1"}, h.queue.completed)
	assert.Contains(t, h.documents.appended["doc-1"], "recognized: photo bytes")
	assert.Equal(t, domain.StageCompleted, h.documents.stages["doc-1/ocr"])

	require.Len(t, h.audit.events, 1)
	assert.Equal(t, domain.EventOCRCompleted, h.audit.events[0].EventType)

	summary := h.documents.ocr["doc-1"]
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary["assets_completed"])
}

func TestRunCycles_RecognitionFailureRequeues(t *testing.T) {
	h := newHarness(ocrEntry("asset-1", "doc-1", "images-raw/doc-1/000_photo.jpg", 0, 3))
	h.assets.objects["images-raw/doc-1/000_photo.jpg"] = []byte("photo bytes")
	h.recognizer.errs["photo bytes"] = errors.New("engine unavailable")

	processed, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Contains(t, h.queue.failed, "asset-1")
	d := h.queue.failed["asset-1"]
	assert.False(t, d.Terminal)
	assert.Equal(t, retry.DefaultBase, d.Delay)
	assert.Empty(t, h.queue.completed)
	assert.Empty(t, h.documents.appended)
}

func TestRunCycles_TerminalFailureRollsUpPartial(t *testing.T) {
	// Second asset fails its final attempt while the first already
	// completed; the document should read as partially recognized.
	h := newHarness(ocrEntry("asset-2", "doc-1", "images-raw/doc-1/001_scan.jpg", 2, 3))
	h.queue.summaries["doc-1"] = &domain.QueueStats{Completed: 1, Failed: 1, Total: 2}

	processed, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Contains(t, h.queue.failed, "asset-2")
	assert.True(t, h.queue.failed["asset-2"].Terminal)
	assert.Equal(t, domain.StagePartial, h.documents.stages["doc-1/ocr"])

	summary := h.documents.ocr["doc-1"]
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary["assets_failed"])

	require.Len(t, h.audit.events, 1)
	assert.Equal(t, domain.EventOCRFailed, h.audit.events[0].EventType)
}

func TestRunCycles_SiblingsPendingKeepsStagePending(t *testing.T) {
	h := newHarness(ocrEntry("asset-1", "doc-1", "images-raw/doc-1/000_photo.jpg", 0, 3))
	h.assets.objects["images-raw/doc-1/000_photo.jpg"] = []byte("photo bytes")
	h.queue.summaries["doc-1"] = &domain.QueueStats{Pending: 1, Completed: 1, Total: 2}

	_, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, domain.StagePending, h.documents.stages["doc-1/ocr"])
}

func TestRunCycles_DownloadFailureRequeues(t *testing.T) {
	h := newHarness(ocrEntry("asset-1", "doc-1", "images-raw/doc-1/missing.jpg", 0, 3))

	_, err := h.pool.RunCycles(context.Background(), 5)
	require.NoError(t, err)

	require.Contains(t, h.queue.failed, "asset-1")
	assert.False(t, h.queue.failed["asset-1"].Terminal)
}

func TestPassthroughRecognizer(t *testing.T) {
	r := ocr.PassthroughRecognizer{}

	result, err := r.Recognize(context.Background(), []byte("  plain text  "), domain.AssetTypeImage)
	require.NoError(t, err)
	assert.Equal(t, "plain text", result.Text)
	assert.InDelta(t, 1.0, result.Confidence, 0.001)

	_, err = r.Recognize(context.Background(), []byte{0xff, 0xfe, 0x00, 0x80}, domain.AssetTypeScan)
	assert.Error(t, err, "non-UTF-8 bytes are not extractable")
}
