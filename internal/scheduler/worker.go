package scheduler

import (
	"context"
	"fmt"

	"leadflow_backend/internal/leads/service"
	"leadflow_backend/internal/messaging"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Sweeper runs one SLA breach and escalation pass.
type Sweeper interface {
	Sweep(ctx context.Context, workspaceID *uuid.UUID) (service.SweepReport, error)
}

// OutboxDispatcher delivers one batch of queued outbound messages.
type OutboxDispatcher interface {
	DispatchOnce(ctx context.Context, batch int) (messaging.Stats, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	sweeper    Sweeper
	dispatcher OutboxDispatcher
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sweeper Sweeper, dispatcher OutboxDispatcher, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		sweeper:    sweeper,
		dispatcher: dispatcher,
		log:        log,
	}

	mux.HandleFunc(TaskSLASweep, w.handleSLASweep)
	mux.HandleFunc(TaskOutboxDispatch, w.handleOutboxDispatch)

	return w, nil
}

func (w *Worker) handleSLASweep(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSLASweepPayload(task)
	if err != nil {
		return err
	}

	var workspaceID *uuid.UUID
	if payload.WorkspaceID != nil {
		id, err := uuid.Parse(*payload.WorkspaceID)
		if err != nil {
			return err
		}
		workspaceID = &id
	}

	_, err = w.sweeper.Sweep(ctx, workspaceID)
	return err
}

func (w *Worker) handleOutboxDispatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOutboxDispatchPayload(task)
	if err != nil {
		return err
	}

	stats, err := w.dispatcher.DispatchOnce(ctx, payload.Batch)
	if err != nil {
		return err
	}

	if stats.Sent > 0 || stats.Failed > 0 {
		w.log.Info("outbox batch dispatched", "sent", stats.Sent, "failed", stats.Failed)
	}
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
