package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

// OutboxWorker relays committed security events from the outbox to the broker.
type OutboxWorker struct {
	logger     *slog.Logger
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
	nowFn      func() time.Time
}

type OutboxWorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimTTL   time.Duration
	MaxRetries int
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, cfg OutboxWorkerConfig) *OutboxWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxWorker{
		logger:     logger.With("module", "events.outbox_worker", "layer", "adapter"),
		outbox:     outbox,
		publisher:  publisher,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		claimTTL:   cfg.ClaimTTL,
		maxRetries: cfg.MaxRetries,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// BatchResult summarizes one ProcessOnce pass.
type BatchResult struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
}

type deliveryOutcome int

const (
	outcomePublished deliveryOutcome = iota
	outcomeRetry
	outcomeDeadLettered
)

// ProcessOnce claims one batch and publishes it. Records that hit the retry budget are
// dead-lettered rather than retried forever.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (BatchResult, error) {
	lease := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, lease, w.nowFn().Add(w.claimTTL))
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Claimed: len(records)}
	for _, rec := range records {
		switch w.deliver(ctx, lease, rec) {
		case outcomePublished:
			res.Published++
		case outcomeRetry:
			res.Failed++
		case outcomeDeadLettered:
			if rec.RetryCount < w.maxRetries {
				res.Failed++
			}
			res.DeadLettered++
		}
	}
	if res.Claimed > 0 {
		w.logger.InfoContext(ctx, "outbox batch processed",
			"operation", "outbox_process_once",
			"outcome", "success",
			"batch_size", res.Claimed,
			"published_count", res.Published,
			"failed_count", res.Failed,
			"dead_lettered_count", res.DeadLettered,
		)
	}
	return res, nil
}

func (w *OutboxWorker) deliver(ctx context.Context, lease string, rec ports.OutboxRecord) deliveryOutcome {
	now := w.nowFn()
	if rec.RetryCount >= w.maxRetries {
		w.settle(ctx, rec, w.outbox.MarkDeadLettered(ctx, rec.OutboxID, lease, "retry budget exhausted before publish", now))
		return outcomeDeadLettered
	}

	pubErr := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey)
	if pubErr == nil {
		w.settle(ctx, rec, w.outbox.MarkPublished(ctx, rec.OutboxID, lease, now))
		return outcomePublished
	}

	attempts := rec.RetryCount + 1
	fields := []any{
		"operation", "publish_event",
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"attempt", attempts,
		"max_retries", w.maxRetries,
		"error", pubErr,
	}
	if attempts >= w.maxRetries {
		w.logger.ErrorContext(ctx, "outbox record dead-lettered", fields...)
		w.settle(ctx, rec, w.outbox.MarkDeadLettered(ctx, rec.OutboxID, lease, pubErr.Error(), now))
		return outcomeDeadLettered
	}
	w.logger.WarnContext(ctx, "outbox publish failed, will retry", fields...)
	w.settle(ctx, rec, w.outbox.MarkFailed(ctx, rec.OutboxID, lease, pubErr.Error(), now))
	return outcomeRetry
}

// settle logs a failed lease release. The lease expires on its own, so the record is
// picked up again by a later pass.
func (w *OutboxWorker) settle(ctx context.Context, rec ports.OutboxRecord, err error) {
	if err == nil {
		return
	}
	w.logger.ErrorContext(ctx, "outbox record update failed",
		"operation", "outbox_settle",
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"error", err,
	)
}
