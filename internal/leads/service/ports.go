// Package service orchestrates lead ingestion, reply processing, proof
// recording, and the opportunistic SLA sweeps. Every multi-record mutation
// runs inside a single transaction through the TxRunner.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/autopilot"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/routing"
	"leadflow_backend/internal/sla/escalation"
	slarepo "leadflow_backend/internal/sla/repository"
	slaservice "leadflow_backend/internal/sla/service"
	"leadflow_backend/internal/workspaces"
)

// LeadStore persists leads, their event log, and the outbound queue.
type LeadStore interface {
	CreateLead(ctx context.Context, l domain.Lead) (domain.Lead, error)
	GetLead(ctx context.Context, workspaceID, leadID uuid.UUID) (domain.Lead, error)
	ListLeads(ctx context.Context, workspaceID uuid.UUID, limit int) ([]domain.Lead, error)
	GetOwner(ctx context.Context, leadID uuid.UUID) (*uuid.UUID, error)
	SetOwner(ctx context.Context, leadID uuid.UUID, ownerUserID uuid.UUID) error

	AppendEvent(ctx context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) error
	AppendEventRecord(ctx context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) (domain.Event, error)
	ListRecentEvents(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Event, error)

	QueueMessage(ctx context.Context, m domain.OutboundMessage) (domain.OutboundMessage, error)
	ListRecentOutbound(ctx context.Context, leadID uuid.UUID, limit int) ([]string, error)
}

// RunStore persists autopilot runs and scenarios.
type RunStore interface {
	autopilot.ScenarioStore
	CreateRun(ctx context.Context, run *autopilot.Run) error
	GetRunByLead(ctx context.Context, leadID uuid.UUID, forUpdate bool) (*autopilot.Run, error)
	ApplyTransition(ctx context.Context, runID uuid.UUID, status, currentStep string, stateJSON []byte, inboundAt time.Time) error
	TouchOutbound(ctx context.Context, runID uuid.UUID, at time.Time) error
}

// WorkspaceReader resolves workspace and flow configuration.
type WorkspaceReader interface {
	GetWorkspace(ctx context.Context, id uuid.UUID) (workspaces.Workspace, error)
	GetFlow(ctx context.Context, id uuid.UUID) (workspaces.Flow, error)
	GetDefaultFlow(ctx context.Context, workspaceID uuid.UUID) (workspaces.Flow, error)
}

// Repos bundles the transaction-scoped collaborators one unit of work sees.
type Repos struct {
	Leads        LeadStore
	Runs         RunStore
	Workspaces   WorkspaceReader
	SLAInstances slarepo.StageInstanceStore
	SLA          *slaservice.Service
	Routing      *routing.Engine
	Resolver     *autopilot.Resolver
	Escalation   *escalation.Detector
}

// TxRunner executes a unit of work atomically. Partial application of a
// multi-record mutation is not an acceptable failure mode.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
