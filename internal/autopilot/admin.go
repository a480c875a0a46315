package autopilot

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// Conversation budget bounds accepted from tenant configuration.
const (
	minMaxQuestions = 1
	maxMaxQuestions = 10
)

// AdminStore is the persistence surface of the scenario admin service.
type AdminStore interface {
	ScenarioStore
	UpdateScenario(ctx context.Context, s *Scenario) error
	ListScenarios(ctx context.Context, workspaceID uuid.UUID) ([]Scenario, error)
}

// Admin implements the tenant-facing scenario configuration operations.
type Admin struct {
	store AdminStore
	log   *logger.Logger
}

func NewAdmin(store AdminStore, log *logger.Logger) *Admin {
	return &Admin{store: store, log: log}
}

// ScenarioInput carries the editable scenario fields.
type ScenarioInput struct {
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
}

func (in *ScenarioInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.Validation("name is required")
	}
	switch in.Mode {
	case ModeRules, ModeAI:
	default:
		return apperr.Validation("mode must be RULES or AI")
	}
	if in.MaxQuestions < minMaxQuestions || in.MaxQuestions > maxMaxQuestions {
		return apperr.Validation("maxQuestions out of range")
	}
	if in.SLAMinutes < 1 {
		return apperr.Validation("slaMinutes must be positive")
	}
	if in.Mode == ModeAI && strings.TrimSpace(in.AIPrompt) == "" {
		return apperr.Validation("aiPrompt is required for AI mode")
	}
	return nil
}

func (in ScenarioInput) apply(s *Scenario) {
	s.Name = in.Name
	s.Mode = in.Mode
	s.MaxQuestions = in.MaxQuestions
	s.SLAMinutes = in.SLAMinutes
	s.AIPrompt = in.AIPrompt
	s.AgentName = strings.TrimSpace(in.AgentName)
	s.CompanyName = strings.TrimSpace(in.CompanyName)
	s.CompanyDescription = in.CompanyDescription
	s.OfferSummary = in.OfferSummary
	s.CalendarLinkRaw = strings.TrimSpace(in.CalendarLinkRaw)
	s.HandoverUserID = in.HandoverUserID
}

// CreateScenario validates and persists a new scenario. When marked default it
// also demotes the workspace's previous default.
func (a *Admin) CreateScenario(ctx context.Context, workspaceID uuid.UUID, in ScenarioInput) (*Scenario, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	s := &Scenario{WorkspaceID: workspaceID, IsDefault: in.IsDefault}
	in.apply(s)
	if err := a.store.CreateScenario(ctx, s); err != nil {
		return nil, err
	}
	if in.IsDefault {
		if err := a.store.MarkDefault(ctx, workspaceID, s.ID); err != nil {
			return nil, err
		}
	}

	a.log.Info("scenario created", "workspaceId", workspaceID, "scenarioId", s.ID, "mode", s.Mode)
	return s, nil
}

// UpdateScenario validates and applies edits to an existing scenario.
func (a *Admin) UpdateScenario(ctx context.Context, workspaceID, scenarioID uuid.UUID, in ScenarioInput) (*Scenario, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	s, err := a.store.GetScenario(ctx, workspaceID, scenarioID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.NotFound("scenario not found")
	}

	in.apply(s)
	if err := a.store.UpdateScenario(ctx, s); err != nil {
		return nil, err
	}
	if in.IsDefault && !s.IsDefault {
		if err := a.store.MarkDefault(ctx, workspaceID, s.ID); err != nil {
			return nil, err
		}
		s.IsDefault = true
	}
	return s, nil
}

// SetDefault promotes one scenario to the workspace default.
func (a *Admin) SetDefault(ctx context.Context, workspaceID, scenarioID uuid.UUID) error {
	s, err := a.store.GetScenario(ctx, workspaceID, scenarioID)
	if err != nil {
		return err
	}
	if s == nil {
		return apperr.NotFound("scenario not found")
	}
	return a.store.MarkDefault(ctx, workspaceID, scenarioID)
}

// ListScenarios returns all scenarios of a workspace.
func (a *Admin) ListScenarios(ctx context.Context, workspaceID uuid.UUID) ([]Scenario, error) {
	return a.store.ListScenarios(ctx, workspaceID)
}
