package logqueue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dban0001/llmgateway/llm/idempotency"
)

// batchSize is the worker's claim-batch size, fixed per spec §4.10.
const batchSize = 10

// Store is the narrow persistence interface the worker needs: retention
// policy lookup, bulk log insert, and a single atomic credit debit per
// organization. Concrete implementations (e.g. storage package) own
// everything else about the `log`/`organization` tables.
type Store interface {
	RetentionLevel(ctx context.Context, orgID string) (string, error)
	InsertLogs(ctx context.Context, entries []Entry) error
	DebitCredits(ctx context.Context, orgID string, amount float64) error
}

// TopUpFunc runs one pass of the auto-topup loop (C11). Invoked from the
// worker's own cadence counter per spec §4.10 rather than a second ticker,
// since both share the "how many seconds has this process been running"
// clock.
type TopUpFunc func(ctx context.Context) error

// Worker implements the C10 log worker: claim, persist, debit,
// acknowledge, on a fixed cadence, with crash recovery and graceful
// shutdown.
type Worker struct {
	queue Queue
	store Store
	idem  idempotency.Manager
	topup TopUpFunc

	production bool
	logger     *zap.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewWorker builds a Worker. idem may be nil, in which case no
// re-delivery dedup is performed beyond the queue's own acknowledge
// semantics (tests exercise both configurations). topup may be nil to run
// the log pipeline without the auto-topup cadence (e.g. in a worker-only
// process split).
func NewWorker(queue Queue, store Store, idem idempotency.Manager, topup TopUpFunc, production bool, logger *zap.Logger) *Worker {
	return &Worker{
		queue:      queue,
		store:      store,
		idem:       idem,
		topup:      topup,
		production: production,
		logger:     logger.With(zap.String("component", "log_worker")),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Run drives the worker loop until Stop is called or ctx is canceled. Run
// is blocking; callers start it in its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)

	if n, err := w.queue.RecoverProcessing(ctx); err != nil {
		w.logger.Error("crash recovery failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("recovered in-flight log messages", zap.Int("count", n))
	}

	topupEvery, statsEvery := 120, 60
	if !w.production {
		topupEvery, statsEvery = 5, 10
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var iteration uint64
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			iteration++
			w.tick(ctx)

			if w.topup != nil && iteration%uint64(topupEvery) == 0 {
				if err := w.topup(ctx); err != nil {
					w.logger.Error("auto-topup pass failed", zap.Error(err))
				}
			}
			if iteration%uint64(statsEvery) == 0 {
				w.logStats(ctx)
			}
		}
	}
}

// Stop requests the loop exit and blocks up to 15s for it to drain.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	select {
	case <-w.doneCh:
	case <-time.After(15 * time.Second):
		w.logger.Warn("log worker did not drain within the shutdown grace period")
	}
}

func (w *Worker) tick(ctx context.Context) {
	batch, err := w.queue.ClaimBatch(ctx, batchSize)
	if err != nil {
		w.logger.Error("claim batch failed", zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return
	}
	w.persist(ctx, batch)
}

func (w *Worker) persist(ctx context.Context, batch [][]byte) {
	entries := make([]Entry, 0, len(batch))
	kept := make([][]byte, 0, len(batch))

	for _, raw := range batch {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			w.logger.Error("discarding invalid log message", zap.Error(err))
			if ackErr := w.queue.Acknowledge(ctx, [][]byte{raw}); ackErr != nil {
				w.logger.Error("failed to acknowledge invalid message", zap.Error(ackErr))
			}
			continue
		}

		if w.idem != nil {
			if exists, err := w.idem.Exists(ctx, e.RequestID); err == nil && exists {
				if ackErr := w.queue.Acknowledge(ctx, [][]byte{raw}); ackErr != nil {
					w.logger.Error("failed to acknowledge duplicate message", zap.Error(ackErr))
				}
				continue
			}
		}

		if level, err := w.store.RetentionLevel(ctx, e.OrganizationID); err == nil && level == "none" {
			e.StripRetainedContent()
		}

		entries = append(entries, e)
		kept = append(kept, raw)
	}

	if len(entries) == 0 {
		return
	}

	if err := w.store.InsertLogs(ctx, entries); err != nil {
		w.logger.Error("persist failed, recovering batch to main queue", zap.Error(err))
		if recErr := w.queue.Recover(ctx, kept); recErr != nil {
			w.logger.Error("failed to recover batch", zap.Error(recErr))
		}
		return
	}

	w.debitCredits(ctx, entries)

	if w.idem != nil {
		for _, e := range entries {
			if err := w.idem.Set(ctx, e.RequestID, struct{ Persisted bool }{true}, 24*time.Hour); err != nil {
				w.logger.Warn("failed to record idempotency marker", zap.String("request_id", e.RequestID), zap.Error(err))
			}
		}
	}

	if err := w.queue.Acknowledge(ctx, kept); err != nil {
		w.logger.Error("failed to acknowledge persisted batch", zap.Error(err))
	}
}

// debitCredits groups entries by org and issues one atomic debit per org
// per batch (spec §4.10), summing only billable rows (§8 invariant 6).
func (w *Worker) debitCredits(ctx context.Context, entries []Entry) {
	totals := make(map[string]float64)
	for _, e := range entries {
		if !e.Billable() {
			continue
		}
		totals[e.OrganizationID] += e.TotalCost
	}
	for orgID, amount := range totals {
		if amount <= 0 {
			continue
		}
		if err := w.store.DebitCredits(ctx, orgID, amount); err != nil {
			w.logger.Error("credit debit failed", zap.String("organization_id", orgID), zap.Error(err))
		}
	}
}

func (w *Worker) logStats(ctx context.Context) {
	main, processing, err := w.queue.Depths(ctx)
	if err != nil {
		w.logger.Warn("failed to read queue depths", zap.Error(err))
		return
	}
	w.logger.Info("log queue stats", zap.Int64("main_depth", main), zap.Int64("processing_depth", processing))
}
