package workspaces

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/bizhours"
	sladomain "leadflow_backend/internal/sla/domain"
	slarepo "leadflow_backend/internal/sla/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
)

// CreateWorkspaceInput carries the fields for a new tenant.
type CreateWorkspaceInput struct {
	Name          string
	Timezone      string
	BusinessHours json.RawMessage
}

// StageInput is one stage definition inside a flow create or update.
type StageInput struct {
	Key                  string
	Name                 string
	TargetMinutes        int
	BusinessHoursEnabled bool
	StopOnProofTypes     []string
	Position             int
	Escalation           *EscalationInput
}

// EscalationInput configures the escalation thresholds of one stage.
type EscalationInput struct {
	Enabled           bool
	RemindAtPct       float64
	ReassignAtPct     float64
	ManagerAlertAtPct float64
}

// CreateFlowInput carries a new pipeline plus its stage ladder.
type CreateFlowInput struct {
	WorkspaceID         uuid.UUID
	Name                string
	EligibleAgents      []uuid.UUID
	FallbackOwnerUserID *uuid.UUID
	Stages              []StageInput
}

// Service covers the tenant administration operations: workspaces,
// memberships, flows, and per-stage SLA configuration.
type Service struct {
	pool *pgxpool.Pool
	repo *Repository
	log  *logger.Logger
}

func NewService(pool *pgxpool.Pool, log *logger.Logger) *Service {
	return &Service{pool: pool, repo: New(pool), log: log}
}

func (s *Service) CreateWorkspace(ctx context.Context, in CreateWorkspaceInput) (Workspace, error) {
	if in.Timezone == "" {
		in.Timezone = bizhours.DefaultTimezone
	}
	ws, err := s.repo.CreateWorkspace(ctx, in.Name, in.Timezone, in.BusinessHours)
	if err != nil {
		return Workspace{}, err
	}
	s.log.Info("workspace created", "workspaceId", ws.ID, "name", ws.Name)
	return ws, nil
}

func (s *Service) GetWorkspace(ctx context.Context, id uuid.UUID) (Workspace, error) {
	return s.repo.GetWorkspace(ctx, id)
}

func (s *Service) UpsertMembership(ctx context.Context, m Membership) error {
	switch m.Role {
	case RoleOwner, RoleAdmin, RoleManager, RoleAgent:
	default:
		return apperr.BadRequest("unknown membership role")
	}
	if m.Status == "" {
		m.Status = MembershipStatusActive
	}
	return s.repo.UpsertMembership(ctx, m)
}

func (s *Service) ListMemberships(ctx context.Context, workspaceID uuid.UUID) ([]Membership, error) {
	return s.repo.ListActiveMemberships(ctx, workspaceID)
}

// CreateFlow inserts the flow and its stage ladder in one transaction, so a
// half-configured pipeline never becomes visible to routing.
func (s *Service) CreateFlow(ctx context.Context, in CreateFlowInput) (Flow, error) {
	if len(in.Stages) == 0 {
		return Flow{}, apperr.BadRequest("flow needs at least one stage")
	}

	var created Flow
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		repo := s.repo.WithQuerier(tx)
		flow, err := repo.CreateFlow(ctx, Flow{
			WorkspaceID:         in.WorkspaceID,
			Name:                in.Name,
			EligibleAgents:      in.EligibleAgents,
			FallbackOwnerUserID: in.FallbackOwnerUserID,
		})
		if err != nil {
			return err
		}
		if err := upsertStages(ctx, slarepo.New(tx), flow.ID, in.Stages); err != nil {
			return err
		}
		created = flow
		return nil
	})
	if err != nil {
		return Flow{}, err
	}
	s.log.Info("flow created", "flowId", created.ID, "workspaceId", created.WorkspaceID, "stages", len(in.Stages))
	return created, nil
}

// UpdateFlowStages upserts stage definitions and escalation rules for an
// existing flow. The flow must belong to the caller's workspace.
func (s *Service) UpdateFlowStages(ctx context.Context, workspaceID, flowID uuid.UUID, stages []StageInput) error {
	if len(stages) == 0 {
		return apperr.BadRequest("no stages provided")
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		flow, err := s.repo.WithQuerier(tx).GetFlow(ctx, flowID)
		if err != nil {
			return err
		}
		if flow.WorkspaceID != workspaceID {
			return apperr.NotFound("flow not found")
		}
		return upsertStages(ctx, slarepo.New(tx), flowID, stages)
	})
}

func upsertStages(ctx context.Context, repo *slarepo.Repository, flowID uuid.UUID, stages []StageInput) error {
	for i, st := range stages {
		pos := st.Position
		if pos == 0 {
			pos = i
		}
		if err := repo.UpsertStageDefinition(ctx, sladomain.StageDefinition{
			FlowID:               flowID,
			Key:                  st.Key,
			Name:                 st.Name,
			TargetMinutes:        st.TargetMinutes,
			BusinessHoursEnabled: st.BusinessHoursEnabled,
			StopOnProofTypes:     st.StopOnProofTypes,
			Position:             pos,
		}); err != nil {
			return err
		}
		if st.Escalation == nil {
			continue
		}
		if err := repo.UpsertEscalationRule(ctx, sladomain.EscalationRule{
			FlowID:            flowID,
			StageKey:          st.Key,
			Enabled:           st.Escalation.Enabled,
			RemindAtPct:       st.Escalation.RemindAtPct,
			ReassignAtPct:     st.Escalation.ReassignAtPct,
			ManagerAlertAtPct: st.Escalation.ManagerAlertAtPct,
		}); err != nil {
			return err
		}
	}
	return nil
}
