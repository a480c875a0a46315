package autopilot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

const scenarioCols = `id, workspace_id, name, mode, max_questions, sla_minutes, ai_prompt,
	agent_name, company_name, company_description, offer_summary, calendar_link_raw,
	handover_user_id, is_default, created_at, updated_at`

// Repository persists scenarios and runs.
type Repository struct {
	q db.Querier
}

var _ ScenarioStore = (*Repository)(nil)

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

// WithQuerier returns a repository bound to a different querier (e.g. a tx).
func (r *Repository) WithQuerier(q db.Querier) *Repository {
	return &Repository{q: q}
}

func scanScenario(row pgx.Row) (*Scenario, error) {
	var s Scenario
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Mode, &s.MaxQuestions, &s.SLAMinutes,
		&s.AIPrompt, &s.AgentName, &s.CompanyName, &s.CompanyDescription, &s.OfferSummary,
		&s.CalendarLinkRaw, &s.HandoverUserID, &s.IsDefault, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) GetScenario(ctx context.Context, workspaceID, scenarioID uuid.UUID) (*Scenario, error) {
	return scanScenario(r.q.QueryRow(ctx, `
		SELECT `+scenarioCols+`
		FROM autopilot_scenarios
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, scenarioID))
}

func (r *Repository) FindDefaultScenario(ctx context.Context, workspaceID uuid.UUID) (*Scenario, error) {
	return scanScenario(r.q.QueryRow(ctx, `
		SELECT `+scenarioCols+`
		FROM autopilot_scenarios
		WHERE workspace_id = $1 AND is_default = TRUE
		ORDER BY created_at
		LIMIT 1
	`, workspaceID))
}

func (r *Repository) FindEarliestScenario(ctx context.Context, workspaceID uuid.UUID) (*Scenario, error) {
	return scanScenario(r.q.QueryRow(ctx, `
		SELECT `+scenarioCols+`
		FROM autopilot_scenarios
		WHERE workspace_id = $1
		ORDER BY created_at
		LIMIT 1
	`, workspaceID))
}

// MarkDefault makes one scenario the default and clears every other default
// in the same statement, so concurrent callers converge.
func (r *Repository) MarkDefault(ctx context.Context, workspaceID, scenarioID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE autopilot_scenarios
		SET is_default = (id = $2), updated_at = now()
		WHERE workspace_id = $1
	`, workspaceID, scenarioID)
	return err
}

func (r *Repository) CreateScenario(ctx context.Context, s *Scenario) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.q.QueryRow(ctx, `
		INSERT INTO autopilot_scenarios (id, workspace_id, name, mode, max_questions, sla_minutes,
			ai_prompt, agent_name, company_name, company_description, offer_summary,
			calendar_link_raw, handover_user_id, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, s.ID, s.WorkspaceID, s.Name, s.Mode, s.MaxQuestions, s.SLAMinutes, s.AIPrompt,
		s.AgentName, s.CompanyName, s.CompanyDescription, s.OfferSummary, s.CalendarLinkRaw,
		s.HandoverUserID, s.IsDefault).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *Repository) UpdateScenario(ctx context.Context, s *Scenario) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE autopilot_scenarios
		SET name = $3, mode = $4, max_questions = $5, sla_minutes = $6, ai_prompt = $7,
			agent_name = $8, company_name = $9, company_description = $10, offer_summary = $11,
			calendar_link_raw = $12, handover_user_id = $13, updated_at = now()
		WHERE workspace_id = $1 AND id = $2
	`, s.WorkspaceID, s.ID, s.Name, s.Mode, s.MaxQuestions, s.SLAMinutes, s.AIPrompt,
		s.AgentName, s.CompanyName, s.CompanyDescription, s.OfferSummary, s.CalendarLinkRaw,
		s.HandoverUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scenario not found")
	}
	return nil
}

func (r *Repository) ListScenarios(ctx context.Context, workspaceID uuid.UUID) ([]Scenario, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+scenarioCols+`
		FROM autopilot_scenarios
		WHERE workspace_id = $1
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Scenario, 0)
	for rows.Next() {
		var s Scenario
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Mode, &s.MaxQuestions, &s.SLAMinutes,
			&s.AIPrompt, &s.AgentName, &s.CompanyName, &s.CompanyDescription, &s.OfferSummary,
			&s.CalendarLinkRaw, &s.HandoverUserID, &s.IsDefault, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const runCols = `id, workspace_id, lead_id, scenario_id, status, current_step, state_json,
	last_inbound_at, last_outbound_at, created_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.WorkspaceID, &run.LeadID, &run.ScenarioID, &run.Status,
		&run.CurrentStep, &run.StateJSON, &run.LastInboundAt, &run.LastOutboundAt,
		&run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return r.q.QueryRow(ctx, `
		INSERT INTO autopilot_runs (id, workspace_id, lead_id, scenario_id, status, current_step, state_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, run.ID, run.WorkspaceID, run.LeadID, run.ScenarioID, run.Status, run.CurrentStep,
		run.StateJSON).Scan(&run.CreatedAt, &run.UpdatedAt)
}

// GetRunByLead locks the run row so concurrent replies for the same lead
// serialize at the storage layer.
func (r *Repository) GetRunByLead(ctx context.Context, leadID uuid.UUID, forUpdate bool) (*Run, error) {
	query := `
		SELECT ` + runCols + `
		FROM autopilot_runs
		WHERE lead_id = $1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}
	return scanRun(r.q.QueryRow(ctx, query, leadID))
}

// ApplyTransition persists the post-reply run state.
func (r *Repository) ApplyTransition(ctx context.Context, runID uuid.UUID, status, currentStep string, stateJSON []byte, inboundAt time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE autopilot_runs
		SET status = $2, current_step = $3, state_json = $4, last_inbound_at = $5, updated_at = now()
		WHERE id = $1
	`, runID, status, currentStep, stateJSON, inboundAt)
	return err
}

// TouchOutbound stamps the last outbound delivery time.
func (r *Repository) TouchOutbound(ctx context.Context, runID uuid.UUID, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE autopilot_runs
		SET last_outbound_at = $2, updated_at = now()
		WHERE id = $1
	`, runID, at)
	return err
}
