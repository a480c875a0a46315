// Package repository persists leads, their event log, and the outbound
// message queue.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

// Repository is a pgx-backed store bound to a pool or transaction.
type Repository struct {
	q db.Querier
}

func New(q db.Querier) *Repository {
	return &Repository{q: q}
}

// WithQuerier returns a repository bound to a different querier (e.g. a tx).
func (r *Repository) WithQuerier(q db.Querier) *Repository {
	return &Repository{q: q}
}

const leadCols = `id, workspace_id, flow_id, owner_user_id, first_name, last_name, phone, email, source, created_at, updated_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	err := row.Scan(&l.ID, &l.WorkspaceID, &l.FlowID, &l.OwnerUserID, &l.FirstName,
		&l.LastName, &l.Phone, &l.Email, &l.Source, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

func (r *Repository) CreateLead(ctx context.Context, l domain.Lead) (domain.Lead, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO leads (id, workspace_id, flow_id, owner_user_id, first_name, last_name, phone, email, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, l.ID, l.WorkspaceID, l.FlowID, l.OwnerUserID, l.FirstName, l.LastName,
		l.Phone, l.Email, l.Source).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

func (r *Repository) GetLead(ctx context.Context, workspaceID, leadID uuid.UUID) (domain.Lead, error) {
	return scanLead(r.q.QueryRow(ctx, `
		SELECT `+leadCols+`
		FROM leads
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, leadID))
}

// GetLeadAny resolves a lead without a workspace scope, for internal sweeps.
func (r *Repository) GetLeadAny(ctx context.Context, leadID uuid.UUID) (domain.Lead, error) {
	return scanLead(r.q.QueryRow(ctx, `
		SELECT `+leadCols+`
		FROM leads
		WHERE id = $1
	`, leadID))
}

// ListLeads returns a workspace's newest leads.
func (r *Repository) ListLeads(ctx context.Context, workspaceID uuid.UUID, limit int) ([]domain.Lead, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+leadCols+`
		FROM leads
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Lead, 0)
	for rows.Next() {
		var l domain.Lead
		if err := rows.Scan(&l.ID, &l.WorkspaceID, &l.FlowID, &l.OwnerUserID, &l.FirstName,
			&l.LastName, &l.Phone, &l.Email, &l.Source, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *Repository) GetOwner(ctx context.Context, leadID uuid.UUID) (*uuid.UUID, error) {
	var owner *uuid.UUID
	err := r.q.QueryRow(ctx, `
		SELECT owner_user_id FROM leads WHERE id = $1
	`, leadID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lead not found")
	}
	if err != nil {
		return nil, err
	}
	return owner, nil
}

func (r *Repository) SetOwner(ctx context.Context, leadID uuid.UUID, ownerUserID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE leads SET owner_user_id = $2, updated_at = now() WHERE id = $1
	`, leadID, ownerUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

// AppendEvent writes one audit record to the lead event log.
func (r *Repository) AppendEvent(ctx context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) error {
	_, err := r.AppendEventRecord(ctx, workspaceID, leadID, eventType, payload)
	return err
}

// AppendEventRecord writes one audit record and returns it, for callers that
// link the event elsewhere (proof-stopped stages).
func (r *Repository) AppendEventRecord(ctx context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) (domain.Event, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	e := domain.Event{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		LeadID:      leadID,
		EventType:   eventType,
		Payload:     payload,
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO lead_events (id, workspace_id, lead_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING occurred_at
	`, e.ID, e.WorkspaceID, e.LeadID, e.EventType, e.Payload).Scan(&e.OccurredAt)
	if err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

// ExistsSince reports whether an event of the given type was logged for the
// lead at or after the given instant. The escalation detector uses this as
// its idempotency marker.
func (r *Repository) ExistsSince(ctx context.Context, leadID uuid.UUID, eventType string, since time.Time) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM lead_events
			WHERE lead_id = $1 AND event_type = $2 AND occurred_at >= $3
		)
	`, leadID, eventType, since).Scan(&exists)
	return exists, err
}

func (r *Repository) AnyExistsSince(ctx context.Context, leadID uuid.UUID, eventTypes []string, since time.Time) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM lead_events
			WHERE lead_id = $1 AND event_type = ANY($2) AND occurred_at >= $3
		)
	`, leadID, eventTypes, since).Scan(&exists)
	return exists, err
}

// ListRecentEvents returns the lead's newest events, oldest first.
func (r *Repository) ListRecentEvents(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Event, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, workspace_id, lead_id, event_type, payload, occurred_at
		FROM (
			SELECT id, workspace_id, lead_id, event_type, payload, occurred_at
			FROM lead_events
			WHERE lead_id = $1
			ORDER BY occurred_at DESC
			LIMIT $2
		) recent
		ORDER BY occurred_at
	`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Event, 0)
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.LeadID, &e.EventType, &e.Payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// QueueMessage inserts an outbound message with status QUEUED.
func (r *Repository) QueueMessage(ctx context.Context, m domain.OutboundMessage) (domain.OutboundMessage, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Status = domain.MessageQueued
	err := r.q.QueryRow(ctx, `
		INSERT INTO outbound_messages (id, workspace_id, lead_id, to_phone, body, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING queued_at
	`, m.ID, m.WorkspaceID, m.LeadID, m.ToPhone, m.Body, m.Status).Scan(&m.QueuedAt)
	if err != nil {
		return domain.OutboundMessage{}, err
	}
	return m, nil
}

// ListRecentOutbound returns the newest outbound bodies for a lead, oldest
// first, for the planner's conversation history.
func (r *Repository) ListRecentOutbound(ctx context.Context, leadID uuid.UUID, limit int) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT body FROM (
			SELECT body, queued_at
			FROM outbound_messages
			WHERE lead_id = $1
			ORDER BY queued_at DESC
			LIMIT $2
		) recent
		ORDER BY queued_at
	`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		items = append(items, body)
	}
	return items, rows.Err()
}

// ClaimQueued locks and returns up to limit QUEUED messages for delivery.
// SKIP LOCKED lets concurrent dispatchers divide the queue.
func (r *Repository) ClaimQueued(ctx context.Context, limit int) ([]domain.OutboundMessage, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, workspace_id, lead_id, to_phone, body, status, error, queued_at, sent_at
		FROM outbound_messages
		WHERE status = $1
		ORDER BY queued_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, domain.MessageQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OutboundMessage, 0)
	for rows.Next() {
		var m domain.OutboundMessage
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.LeadID, &m.ToPhone, &m.Body,
			&m.Status, &m.Error, &m.QueuedAt, &m.SentAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *Repository) MarkMessageSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE outbound_messages SET status = $2, sent_at = $3, error = NULL WHERE id = $1
	`, id, domain.MessageSent, at)
	return err
}

func (r *Repository) MarkMessageFailed(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE outbound_messages SET status = $2, error = $3 WHERE id = $1
	`, id, domain.MessageFailed, cause)
	return err
}
