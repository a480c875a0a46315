package autopilot

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/platform/logger"
)

// Scenario modes.
const (
	ModeRules = "RULES"
	ModeAI    = "AI"
)

// Run statuses.
const (
	RunStatusActive     = "ACTIVE"
	RunStatusHandedOver = "HANDED_OVER"
)

// Seed values for the self-healing default scenario.
const (
	seedScenarioName = "Scenariu implicit"
	seedMaxQuestions = 2
	seedSLAMinutes   = 15
)

// Scenario is the tenant-configured autopilot behavior. Read-only to the
// engine during a run.
type Scenario struct {
	ID                 uuid.UUID
	WorkspaceID        uuid.UUID
	Name               string
	Mode               string
	MaxQuestions       int
	SLAMinutes         int
	AIPrompt           string
	AgentName          string
	CompanyName        string
	CompanyDescription string
	OfferSummary       string
	CalendarLinkRaw    string
	HandoverUserID     *uuid.UUID
	IsDefault          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Run is the per-lead conversation record.
type Run struct {
	ID             uuid.UUID
	WorkspaceID    uuid.UUID
	LeadID         uuid.UUID
	ScenarioID     *uuid.UUID
	Status         string
	CurrentStep    string
	StateJSON      []byte
	LastInboundAt  *time.Time
	LastOutboundAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScenarioStore is the persistence surface the resolver needs.
type ScenarioStore interface {
	GetScenario(ctx context.Context, workspaceID, scenarioID uuid.UUID) (*Scenario, error)
	FindDefaultScenario(ctx context.Context, workspaceID uuid.UUID) (*Scenario, error)
	FindEarliestScenario(ctx context.Context, workspaceID uuid.UUID) (*Scenario, error)
	MarkDefault(ctx context.Context, workspaceID, scenarioID uuid.UUID) error
	CreateScenario(ctx context.Context, scenario *Scenario) error
}

// Resolver guarantees every workspace converges to exactly one default
// scenario, creating a seed scenario when none exist.
type Resolver struct {
	store ScenarioStore
	log   *logger.Logger
}

func NewResolver(store ScenarioStore, log *logger.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// ResolveDefault returns the workspace's default scenario, promoting the
// earliest-created one or seeding a RULES scenario when needed. Safe to call
// concurrently: MarkDefault clears other defaults in the same statement, so
// racing callers converge on one default.
func (r *Resolver) ResolveDefault(ctx context.Context, workspaceID uuid.UUID) (*Scenario, error) {
	existing, err := r.store.FindDefaultScenario(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	earliest, err := r.store.FindEarliestScenario(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if earliest != nil {
		if err := r.store.MarkDefault(ctx, workspaceID, earliest.ID); err != nil {
			return nil, err
		}
		earliest.IsDefault = true
		r.log.Info("promoted earliest scenario to default",
			"workspaceId", workspaceID, "scenarioId", earliest.ID)
		return earliest, nil
	}

	seed := &Scenario{
		ID:           uuid.New(),
		WorkspaceID:  workspaceID,
		Name:         seedScenarioName,
		Mode:         ModeRules,
		MaxQuestions: seedMaxQuestions,
		SLAMinutes:   seedSLAMinutes,
		IsDefault:    true,
	}
	if err := r.store.CreateScenario(ctx, seed); err != nil {
		return nil, err
	}
	r.log.Info("seeded default scenario", "workspaceId", workspaceID, "scenarioId", seed.ID)
	return seed, nil
}

// ResolveForRun returns the run's scenario, falling back to the workspace
// default when the run has none or the scenario was deleted. A reply is
// never failed because configuration is missing.
func (r *Resolver) ResolveForRun(ctx context.Context, run *Run) (*Scenario, error) {
	if run.ScenarioID != nil {
		scenario, err := r.store.GetScenario(ctx, run.WorkspaceID, *run.ScenarioID)
		if err != nil {
			return nil, err
		}
		if scenario != nil {
			return scenario, nil
		}
	}
	return r.ResolveDefault(ctx, run.WorkspaceID)
}
