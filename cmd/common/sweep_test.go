package common_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NightMareKD/crawler-medicine/cmd/common"
	"github.com/NightMareKD/crawler-medicine/internal/database"
	"github.com/NightMareKD/crawler-medicine/internal/logger"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
)

type fakeSweeper struct {
	recovered int
	err       error
	calls     int
}

func (f *fakeSweeper) SweepOrphans(context.Context, time.Duration, retry.Policy) (int, error) {
	f.calls++
	return f.recovered, f.err
}

type fakeAudit struct {
	events []database.RecordParams
}

func (f *fakeAudit) Record(_ context.Context, params database.RecordParams) (string, error) {
	f.events = append(f.events, params)
	return "audit-1", nil
}

func TestSweepQueues_AuditsRecoveredQueues(t *testing.T) {
	crawlSweeper := &fakeSweeper{recovered: 2}
	ocrSweeper := &fakeSweeper{recovered: 0}
	audit := &fakeAudit{}

	common.SweepQueues(context.Background(), logger.NewNoop(), audit,
		map[string]common.QueueSweeper{
			"crawl_queue": crawlSweeper,
			"ocr_queue":   ocrSweeper,
		},
		15*time.Minute, retry.Default())

	assert.Equal(t, 1, crawlSweeper.calls)
	assert.Equal(t, 1, ocrSweeper.calls)

	// Only the queue that actually recovered entries is audited.
	require.Len(t, audit.events, 1)
	assert.Equal(t, "orphan_requeued", audit.events[0].EventType)
	assert.Equal(t, "crawl_queue", audit.events[0].Details["queue"])
	assert.Equal(t, 2, audit.events[0].Details["recovered"])
}

func TestSweepQueues_FailingQueueDoesNotBlockOthers(t *testing.T) {
	broken := &fakeSweeper{err: errors.New("database unavailable")}
	healthy := &fakeSweeper{recovered: 1}
	audit := &fakeAudit{}

	common.SweepQueues(context.Background(), logger.NewNoop(), audit,
		map[string]common.QueueSweeper{
			"crawl_queue": broken,
			"ocr_queue":   healthy,
		},
		15*time.Minute, retry.Default())

	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, healthy.calls)
	require.Len(t, audit.events, 1)
	assert.Equal(t, "ocr_queue", audit.events[0].Details["queue"])
}

func TestStartOrphanSweep_InvalidScheduleDisablesSweep(t *testing.T) {
	sweeper := common.StartOrphanSweep(context.Background(), logger.NewNoop(), &fakeAudit{},
		map[string]common.QueueSweeper{"crawl_queue": &fakeSweeper{}},
		"not a cron expression", 15*time.Minute, retry.Default())

	// Disabled sweeper is inert and safe to stop.
	sweeper.Stop()
}
