package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/bizhours"
	"leadflow_backend/internal/sla/domain"
)

// StageInstanceStore provides persistence for stage instances.
type StageInstanceStore interface {
	Create(ctx context.Context, inst domain.StageInstance) (domain.StageInstance, error)
	// FindRunning returns the most-recently-started RUNNING instance for the
	// (lead, flow, stage) triple, or nil when none is running.
	FindRunning(ctx context.Context, leadID, flowID uuid.UUID, stageKey string) (*domain.StageInstance, error)
	// FindRunningByLead returns the lead's current RUNNING instance on any stage.
	FindRunningByLead(ctx context.Context, leadID uuid.UUID) (*domain.StageInstance, error)
	// ListRunning returns all RUNNING instances, optionally scoped to a workspace.
	ListRunning(ctx context.Context, workspaceID *uuid.UUID) ([]domain.StageInstance, error)
	MarkStopped(ctx context.Context, id uuid.UUID, stoppedAt time.Time, reason string, proofEventID *uuid.UUID) error
	// MarkBreachedDue transitions every RUNNING instance with dueAt < now to
	// BREACHED and returns the number of rows transitioned.
	MarkBreachedDue(ctx context.Context, workspaceID *uuid.UUID, now time.Time) (int, error)
}

// FlowConfigReader provides the stage templates and workspace context the
// engine needs when starting a stage.
type FlowConfigReader interface {
	// StageDefinition returns nil when no definition exists for the pair.
	StageDefinition(ctx context.Context, flowID uuid.UUID, stageKey string) (*domain.StageDefinition, error)
	// EscalationRule returns nil when no rule exists for the pair.
	EscalationRule(ctx context.Context, flowID uuid.UUID, stageKey string) (*domain.EscalationRule, error)
	// FlowContext resolves the owning workspace and its business-hours config.
	FlowContext(ctx context.Context, flowID uuid.UUID) (uuid.UUID, bizhours.Config, error)
}
