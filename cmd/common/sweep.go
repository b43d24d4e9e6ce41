package common

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NightMareKD/crawler-medicine/internal/database"
	"github.com/NightMareKD/crawler-medicine/internal/domain"
	"github.com/NightMareKD/crawler-medicine/internal/logger"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
)

// QueueSweeper is the orphan recovery surface shared by both queue
// repositories.
type QueueSweeper interface {
	SweepOrphans(ctx context.Context, staleAfter time.Duration, policy retry.Policy) (int, error)
}

// AuditRecorder appends audit events.
type AuditRecorder interface {
	Record(ctx context.Context, params database.RecordParams) (string, error)
}

// OrphanSweeper wraps the cron scheduler running periodic orphan
// recovery.
type OrphanSweeper struct {
	cron *cron.Cron
}

// Stop halts the schedule. Safe to call on a disabled sweeper.
func (s *OrphanSweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// StartOrphanSweep schedules recovery of entries stuck in processing for
// the given queues, keyed by queue name. An invalid schedule is logged
// and sweeping is skipped rather than failing the worker. Concurrent
// sweeps from multiple processes are safe: recovery updates are guarded
// by the processing status.
func StartOrphanSweep(
	ctx context.Context,
	log logger.Interface,
	audit AuditRecorder,
	queues map[string]QueueSweeper,
	schedule string,
	staleAfter time.Duration,
	policy retry.Policy,
) *OrphanSweeper {
	sweepLog := log.WithComponent("orphan-sweep")

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		SweepQueues(ctx, sweepLog, audit, queues, staleAfter, policy)
	})
	if err != nil {
		sweepLog.Error("invalid sweep schedule, orphan recovery disabled",
			"schedule", schedule, "error", err.Error())
		return &OrphanSweeper{}
	}

	c.Start()
	sweepLog.Info("orphan sweep scheduled",
		"schedule", schedule, "stale_after", staleAfter.String(), "queues", len(queues))
	return &OrphanSweeper{cron: c}
}

// SweepQueues runs one recovery pass over each queue. A failing queue is
// logged and does not block the others.
func SweepQueues(
	ctx context.Context,
	log logger.Interface,
	audit AuditRecorder,
	queues map[string]QueueSweeper,
	staleAfter time.Duration,
	policy retry.Policy,
) {
	for queueName, q := range queues {
		recovered, err := q.SweepOrphans(ctx, staleAfter, policy)
		if err != nil {
			log.Error("orphan sweep failed", "queue", queueName, "error", err.Error())
			continue
		}
		if recovered == 0 {
			continue
		}

		log.Info("orphans recovered", "queue", queueName, "recovered", recovered)
		if _, auditErr := audit.Record(ctx, database.RecordParams{
			EventType: domain.EventOrphanRequeued,
			Success:   true,
			Details:   domain.JSONBMap{"queue": queueName, "recovered": recovered},
		}); auditErr != nil {
			log.Warn("audit write failed", "queue", queueName, "error", auditErr.Error())
		}
	}
}
