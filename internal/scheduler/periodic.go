package scheduler

import (
	"context"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

const outboxBatchSize = 25

// PeriodicEnqueuer drops a sweep task and an outbox dispatch task on the
// queue every interval. Handlers are idempotent, so a missed or doubled
// tick is harmless.
type PeriodicEnqueuer struct {
	client   *Client
	interval time.Duration
	log      *logger.Logger
}

func NewPeriodicEnqueuer(cfg config.SchedulerConfig, client *Client, log *logger.Logger) *PeriodicEnqueuer {
	interval := cfg.GetSweepInterval()
	if interval <= 0 {
		interval = 2 * time.Minute
	}

	return &PeriodicEnqueuer{
		client:   client,
		interval: interval,
		log:      log,
	}
}

func (p *PeriodicEnqueuer) Run(ctx context.Context) {
	if p == nil || p.client == nil {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := p.client.EnqueueSLASweep(ctx, SLASweepPayload{}); err != nil {
			p.log.Warn("sweep enqueue failed", "error", err)
		}
		if err := p.client.EnqueueOutboxDispatch(ctx, OutboxDispatchPayload{Batch: outboxBatchSize}); err != nil {
			p.log.Warn("outbox enqueue failed", "error", err)
		}
	}
}
