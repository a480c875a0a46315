package autopilot

import (
	"context"

	"leadflow_backend/platform/logger"
)

// Engine selects the transition strategy for a scenario mode and computes
// the next conversation transition. Persistence and outbound delivery are
// the caller's concern; the engine is pure over its inputs apart from the
// AI planner's provider call.
type Engine struct {
	planner *Planner
	log     *logger.Logger
}

func NewEngine(planner *Planner, log *logger.Logger) *Engine {
	return &Engine{planner: planner, log: log}
}

// Step processes one inbound reply against the current state. The handover
// node absorbs replies identically in both modes; an unknown mode behaves
// as RULES so a misconfigured scenario still answers.
func (e *Engine) Step(ctx context.Context, in PlanInput) Transition {
	if in.State.Node == NodeHandover {
		return rulesStep(in.State, in.Reply, in.Scenario.MaxQuestions, in.Scenario.Company(), in.Lead.FirstName)
	}

	switch in.Scenario.Mode {
	case ModeAI:
		return e.planner.Plan(ctx, in)
	case ModeRules:
		return rulesStep(in.State, in.Reply, in.Scenario.MaxQuestions, in.Scenario.Company(), in.Lead.FirstName)
	default:
		e.log.Warn("unknown scenario mode, using rules strategy",
			"scenarioId", in.Scenario.ID, "mode", in.Scenario.Mode)
		return rulesStep(in.State, in.Reply, in.Scenario.MaxQuestions, in.Scenario.Company(), in.Lead.FirstName)
	}
}
