// Package repository persists SLA stage instances and reads flow stage
// configuration from Postgres.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/internal/bizhours"
	"leadflow_backend/internal/sla/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

// Repository is the pgx-backed implementation of the SLA stores.
type Repository struct {
	q db.Querier
}

// New creates a repository bound to a pool or transaction.
func New(q db.Querier) *Repository {
	return &Repository{q: q}
}

// WithQuerier returns a repository bound to a different querier (e.g. a tx).
func (r *Repository) WithQuerier(q db.Querier) *Repository {
	return &Repository{q: q}
}

const instanceCols = `
	id, workspace_id, lead_id, flow_id, stage_key, started_at, due_at, status,
	stopped_at, breached_at, stop_reason, proof_event_id`

type instanceScanner interface {
	Scan(dest ...any) error
}

func scanInstance(s instanceScanner) (domain.StageInstance, error) {
	var inst domain.StageInstance
	var status string
	if err := s.Scan(
		&inst.ID,
		&inst.WorkspaceID,
		&inst.LeadID,
		&inst.FlowID,
		&inst.StageKey,
		&inst.StartedAt,
		&inst.DueAt,
		&status,
		&inst.StoppedAt,
		&inst.BreachedAt,
		&inst.StopReason,
		&inst.ProofEventID,
	); err != nil {
		return domain.StageInstance{}, err
	}
	inst.Status = domain.InstanceStatus(status)
	return inst, nil
}

func (r *Repository) Create(ctx context.Context, inst domain.StageInstance) (domain.StageInstance, error) {
	err := r.q.QueryRow(ctx, `
		INSERT INTO stage_instances (workspace_id, lead_id, flow_id, stage_key, started_at, due_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, inst.WorkspaceID, inst.LeadID, inst.FlowID, inst.StageKey, inst.StartedAt, inst.DueAt, string(inst.Status)).Scan(&inst.ID)
	if err != nil {
		return domain.StageInstance{}, err
	}
	return inst, nil
}

func (r *Repository) FindRunning(ctx context.Context, leadID, flowID uuid.UUID, stageKey string) (*domain.StageInstance, error) {
	row := r.q.QueryRow(ctx, `
		SELECT`+instanceCols+`
		FROM stage_instances
		WHERE lead_id = $1 AND flow_id = $2 AND stage_key = $3 AND status = $4
		ORDER BY started_at DESC
		LIMIT 1
	`, leadID, flowID, stageKey, string(domain.StatusRunning))

	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *Repository) FindRunningByLead(ctx context.Context, leadID uuid.UUID) (*domain.StageInstance, error) {
	row := r.q.QueryRow(ctx, `
		SELECT`+instanceCols+`
		FROM stage_instances
		WHERE lead_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1
	`, leadID, string(domain.StatusRunning))

	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *Repository) ListRunning(ctx context.Context, workspaceID *uuid.UUID) ([]domain.StageInstance, error) {
	rows, err := r.q.Query(ctx, `
		SELECT`+instanceCols+`
		FROM stage_instances
		WHERE status = $1 AND ($2::uuid IS NULL OR workspace_id = $2)
		ORDER BY started_at
	`, string(domain.StatusRunning), workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.StageInstance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inst)
	}
	return items, rows.Err()
}

func (r *Repository) MarkStopped(ctx context.Context, id uuid.UUID, stoppedAt time.Time, reason string, proofEventID *uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE stage_instances
		SET status = $2, stopped_at = $3, stop_reason = $4, proof_event_id = $5
		WHERE id = $1 AND status = $6
	`, id, string(domain.StatusStopped), stoppedAt, reason, proofEventID, string(domain.StatusRunning))
	return err
}

func (r *Repository) MarkBreachedDue(ctx context.Context, workspaceID *uuid.UUID, now time.Time) (int, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE stage_instances
		SET status = $1, breached_at = $2, stop_reason = $3
		WHERE status = $4 AND due_at < $2 AND ($5::uuid IS NULL OR workspace_id = $5)
	`, string(domain.StatusBreached), now, domain.ReasonDeadlineExceeded, string(domain.StatusRunning), workspaceID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) StageDefinition(ctx context.Context, flowID uuid.UUID, stageKey string) (*domain.StageDefinition, error) {
	var def domain.StageDefinition
	err := r.q.QueryRow(ctx, `
		SELECT flow_id, key, name, target_minutes, business_hours_enabled, stop_on_proof_types, position
		FROM flow_stages
		WHERE flow_id = $1 AND key = $2
	`, flowID, stageKey).Scan(
		&def.FlowID,
		&def.Key,
		&def.Name,
		&def.TargetMinutes,
		&def.BusinessHoursEnabled,
		&def.StopOnProofTypes,
		&def.Position,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *Repository) EscalationRule(ctx context.Context, flowID uuid.UUID, stageKey string) (*domain.EscalationRule, error) {
	var rule domain.EscalationRule
	err := r.q.QueryRow(ctx, `
		SELECT flow_id, stage_key, enabled, remind_at_pct, reassign_at_pct, manager_alert_at_pct
		FROM escalation_rules
		WHERE flow_id = $1 AND stage_key = $2
	`, flowID, stageKey).Scan(
		&rule.FlowID,
		&rule.StageKey,
		&rule.Enabled,
		&rule.RemindAtPct,
		&rule.ReassignAtPct,
		&rule.ManagerAlertAtPct,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *Repository) FlowContext(ctx context.Context, flowID uuid.UUID) (uuid.UUID, bizhours.Config, error) {
	var workspaceID uuid.UUID
	var timezone string
	var businessHours []byte
	err := r.q.QueryRow(ctx, `
		SELECT w.id, w.timezone, w.business_hours
		FROM flows f
		JOIN workspaces w ON w.id = f.workspace_id
		WHERE f.id = $1
	`, flowID).Scan(&workspaceID, &timezone, &businessHours)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, bizhours.Config{}, apperr.NotFound("flow not found")
	}
	if err != nil {
		return uuid.Nil, bizhours.Config{}, err
	}
	return workspaceID, bizhours.ParseConfig(businessHours, timezone), nil
}

func (r *Repository) UpsertStageDefinition(ctx context.Context, def domain.StageDefinition) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO flow_stages (flow_id, key, name, target_minutes, business_hours_enabled, stop_on_proof_types, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (flow_id, key)
		DO UPDATE SET name = $3, target_minutes = $4, business_hours_enabled = $5, stop_on_proof_types = $6, position = $7
	`, def.FlowID, def.Key, def.Name, def.TargetMinutes, def.BusinessHoursEnabled, def.StopOnProofTypes, def.Position)
	return err
}

func (r *Repository) UpsertEscalationRule(ctx context.Context, rule domain.EscalationRule) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO escalation_rules (flow_id, stage_key, enabled, remind_at_pct, reassign_at_pct, manager_alert_at_pct)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (flow_id, stage_key)
		DO UPDATE SET enabled = $3, remind_at_pct = $4, reassign_at_pct = $5, manager_alert_at_pct = $6
	`, rule.FlowID, rule.StageKey, rule.Enabled, rule.RemindAtPct, rule.ReassignAtPct, rule.ManagerAlertAtPct)
	return err
}

var _ StageInstanceStore = (*Repository)(nil)
var _ FlowConfigReader = (*Repository)(nil)
