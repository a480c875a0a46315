// Package messaging drains the outbound message queue through the WhatsApp
// gateway. Delivery is at-most-once per message: FAILED is terminal and the
// core never retries.
package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/leads/domain"
	leadsrepo "leadflow_backend/internal/leads/repository"
	sladomain "leadflow_backend/internal/sla/domain"
	slarepo "leadflow_backend/internal/sla/repository"
	slaservice "leadflow_backend/internal/sla/service"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
)

const defaultBatchSize = 25

// Sender delivers one message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, phoneNumber string, message string) error
}

// MessageStore is the queue slice of the leads repository the dispatcher uses.
type MessageStore interface {
	ClaimQueued(ctx context.Context, limit int) ([]domain.OutboundMessage, error)
	MarkMessageSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkMessageFailed(ctx context.Context, id uuid.UUID, cause string) error
	AppendEventRecord(ctx context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) (domain.Event, error)
}

// StageStopper lets a successful delivery satisfy the running SLA stage.
type StageStopper interface {
	StopCurrentStageIfProofQualifies(ctx context.Context, leadID uuid.UUID, proofEventType string, proofEventID uuid.UUID) (*sladomain.StageInstance, error)
}

// Stats summarizes one dispatch pass.
type Stats struct {
	Sent   int
	Failed int
}

// Dispatcher claims queued messages and pushes them through the gateway.
type Dispatcher struct {
	pool   *pgxpool.Pool
	sender Sender
	log    *logger.Logger
}

func NewDispatcher(pool *pgxpool.Pool, sender Sender, log *logger.Logger) *Dispatcher {
	return &Dispatcher{pool: pool, sender: sender, log: log}
}

// DispatchOnce claims one batch and delivers it inside a single transaction.
// Claimed rows stay locked until commit, so concurrent dispatchers never
// double-send a message.
func (d *Dispatcher) DispatchOnce(ctx context.Context, batch int) (Stats, error) {
	if d.sender == nil {
		return Stats{}, nil
	}
	if batch < 1 {
		batch = defaultBatchSize
	}

	var stats Stats
	err := db.InTx(ctx, d.pool, func(tx pgx.Tx) error {
		repo := leadsrepo.New(tx)
		sla := slaservice.New(slarepo.New(tx), slarepo.New(tx), d.log)
		s, err := d.dispatch(ctx, repo, sla, batch)
		if err != nil {
			return err
		}
		stats = s
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	if stats.Sent > 0 || stats.Failed > 0 {
		d.log.Info("outbox dispatched", "sent", stats.Sent, "failed", stats.Failed)
	}
	return stats, nil
}

// dispatch delivers one claimed batch. Per-message delivery errors mark the
// message FAILED and continue; only storage errors abort the pass.
func (d *Dispatcher) dispatch(ctx context.Context, store MessageStore, stopper StageStopper, batch int) (Stats, error) {
	msgs, err := store.ClaimQueued(ctx, batch)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, msg := range msgs {
		if sendErr := d.sender.SendMessage(ctx, msg.ToPhone, msg.Body); sendErr != nil {
			d.log.Warn("message delivery failed", "messageId", msg.ID, "leadId", msg.LeadID, "error", sendErr)
			if err := store.MarkMessageFailed(ctx, msg.ID, sendErr.Error()); err != nil {
				return stats, err
			}
			if _, err := store.AppendEventRecord(ctx, msg.WorkspaceID, msg.LeadID, domain.EventMessageFailed, map[string]any{
				"messageId": msg.ID.String(),
				"cause":     sendErr.Error(),
			}); err != nil {
				return stats, err
			}
			stats.Failed++
			continue
		}

		now := time.Now().UTC()
		if err := store.MarkMessageSent(ctx, msg.ID, now); err != nil {
			return stats, err
		}
		// A delivered message is proof of contact on the lead's timeline and
		// can stop the running first-touch stage.
		evt, err := store.AppendEventRecord(ctx, msg.WorkspaceID, msg.LeadID, sladomain.ProofMessageSent, map[string]any{
			"messageId": msg.ID.String(),
			"channel":   "whatsapp",
		})
		if err != nil {
			return stats, err
		}
		if _, err := stopper.StopCurrentStageIfProofQualifies(ctx, msg.LeadID, sladomain.ProofMessageSent, evt.ID); err != nil {
			return stats, err
		}
		stats.Sent++
	}
	return stats, nil
}
