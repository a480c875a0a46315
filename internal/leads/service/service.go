package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/autopilot"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/routing"
	sladomain "leadflow_backend/internal/sla/domain"
	"leadflow_backend/internal/sla/escalation"
	slaservice "leadflow_backend/internal/sla/service"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

const (
	plannerOutboundHistory = 5
	plannerTimelineHistory = 10
)

// Service orchestrates the lead lifecycle.
type Service struct {
	tx     TxRunner
	engine *autopilot.Engine
	log    *logger.Logger
}

func New(tx TxRunner, engine *autopilot.Engine, log *logger.Logger) *Service {
	return &Service{tx: tx, engine: engine, log: log}
}

// IngestInput carries the identity fields of a new lead.
type IngestInput struct {
	WorkspaceID uuid.UUID
	FlowID      *uuid.UUID
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	Source      string
}

// QueuedMessage describes one outbound message queued for delivery.
type QueuedMessage struct {
	ID      uuid.UUID `json:"id"`
	Text    string    `json:"text"`
	ToPhone string    `json:"toPhone"`
}

// AutopilotView is the conversation state slice returned to callers.
type AutopilotView struct {
	Status  string            `json:"status"`
	Node    string            `json:"node"`
	Answers map[string]string `json:"answers"`
}

// IngestResult is the outcome of lead creation.
type IngestResult struct {
	Lead           domain.Lead
	Run            *autopilot.Run
	QueuedMessage  *QueuedMessage
	MessageBlocked bool
	Assignment     routing.Decision
	Stage          sladomain.StageInstance
}

// ReplyResult is the outcome of processing one inbound reply.
type ReplyResult struct {
	LeadID         uuid.UUID      `json:"leadId"`
	Autopilot      AutopilotView  `json:"autopilot"`
	QueuedMessage  *QueuedMessage `json:"queuedMessage"`
	MessageBlocked bool           `json:"messageBlocked,omitempty"`
}

// ProofResult is the outcome of recording a proof event.
type ProofResult struct {
	Event        domain.Event
	StoppedStage *sladomain.StageInstance
}

// SweepReport summarizes one opportunistic sweep.
type SweepReport struct {
	Breaches   int
	Escalation escalation.Stats
}

// Ingest creates a lead, binds it to the workspace's default scenario, queues
// the greeting, assigns an owner, and starts the first SLA stage, all in one
// transaction.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (IngestResult, error) {
	var out IngestResult
	err := s.tx.InTx(ctx, func(ctx context.Context, r Repos) error {
		if _, err := r.Workspaces.GetWorkspace(ctx, in.WorkspaceID); err != nil {
			return err
		}

		var flowID uuid.UUID
		if in.FlowID != nil {
			f, err := r.Workspaces.GetFlow(ctx, *in.FlowID)
			if err != nil {
				return err
			}
			if f.WorkspaceID != in.WorkspaceID {
				return apperr.NotFound("flow not found")
			}
			flowID = f.ID
		} else {
			f, err := r.Workspaces.GetDefaultFlow(ctx, in.WorkspaceID)
			if err != nil {
				return err
			}
			flowID = f.ID
		}

		lead, err := r.Leads.CreateLead(ctx, domain.Lead{
			WorkspaceID: in.WorkspaceID,
			FlowID:      flowID,
			FirstName:   in.FirstName,
			LastName:    in.LastName,
			Phone:       phone.NormalizeE164(in.Phone),
			Email:       in.Email,
			Source:      in.Source,
		})
		if err != nil {
			return err
		}
		if err := r.Leads.AppendEvent(ctx, lead.WorkspaceID, lead.ID, domain.EventLeadCreated, map[string]any{
			"source": in.Source,
		}); err != nil {
			return err
		}

		scenario, err := r.Resolver.ResolveDefault(ctx, in.WorkspaceID)
		if err != nil {
			return err
		}
		run := &autopilot.Run{
			WorkspaceID: in.WorkspaceID,
			LeadID:      lead.ID,
			ScenarioID:  &scenario.ID,
			Status:      autopilot.RunStatusActive,
			CurrentStep: autopilot.NodeStart,
			StateJSON:   autopilot.InitialState().Marshal(),
		}
		if err := r.Runs.CreateRun(ctx, run); err != nil {
			return err
		}

		greeting := autopilot.GreetingText(scenario.Company(), lead.FirstName)
		queued, blocked, err := s.queueOutbound(ctx, r, lead, run, greeting, nil)
		if err != nil {
			return err
		}

		decision, err := r.Routing.AssignLeadFromFlowRouting(ctx, lead.ID, flowID)
		if err != nil {
			return err
		}
		if decision.OwnerUserID != nil {
			owner := *decision.OwnerUserID
			lead.OwnerUserID = &owner
		}

		stage, err := r.SLA.StartStage(ctx, lead.ID, flowID, sladomain.StageFirstTouch, nil)
		if err != nil {
			return err
		}

		out = IngestResult{
			Lead:           lead,
			Run:            run,
			QueuedMessage:  queued,
			MessageBlocked: blocked,
			Assignment:     decision,
			Stage:          stage,
		}
		return nil
	})
	if err != nil {
		return IngestResult{}, err
	}

	s.log.Info("lead ingested",
		"leadId", out.Lead.ID, "workspaceId", out.Lead.WorkspaceID, "source", out.Lead.Source)
	return out, nil
}

// ProcessReply advances the lead's conversation by one inbound reply.
func (s *Service) ProcessReply(ctx context.Context, workspaceID, leadID uuid.UUID, text string) (ReplyResult, error) {
	var out ReplyResult
	err := s.tx.InTx(ctx, func(ctx context.Context, r Repos) error {
		lead, err := r.Leads.GetLead(ctx, workspaceID, leadID)
		if err != nil {
			return err
		}

		run, err := r.Runs.GetRunByLead(ctx, leadID, true)
		if err != nil {
			return err
		}
		if run == nil {
			// A lead without a run means ingestion predates autopilot or the
			// run row was lost; heal instead of failing the reply.
			scenario, err := r.Resolver.ResolveDefault(ctx, workspaceID)
			if err != nil {
				return err
			}
			run = &autopilot.Run{
				WorkspaceID: workspaceID,
				LeadID:      leadID,
				ScenarioID:  &scenario.ID,
				Status:      autopilot.RunStatusActive,
				CurrentStep: autopilot.NodeStart,
				StateJSON:   autopilot.InitialState().Marshal(),
			}
			if err := r.Runs.CreateRun(ctx, run); err != nil {
				return err
			}
		}

		scenario, err := r.Resolver.ResolveForRun(ctx, run)
		if err != nil {
			return err
		}

		state := autopilot.ParseState(run.StateJSON)
		outboundHist, err := r.Leads.ListRecentOutbound(ctx, leadID, plannerOutboundHistory)
		if err != nil {
			return err
		}
		eventsHist, err := r.Leads.ListRecentEvents(ctx, leadID, plannerTimelineHistory)
		if err != nil {
			return err
		}
		timeline := make([]autopilot.TimelineEntry, 0, len(eventsHist))
		for _, e := range eventsHist {
			timeline = append(timeline, autopilot.TimelineEntry{EventType: e.EventType, OccurredAt: e.OccurredAt})
		}

		tr := s.engine.Step(ctx, autopilot.PlanInput{
			Scenario: scenario,
			Lead: autopilot.LeadInfo{
				FirstName: lead.FirstName,
				LastName:  lead.LastName,
				Email:     lead.Email,
				Phone:     lead.Phone,
			},
			State:          state,
			Reply:          text,
			RecentOutbound: outboundHist,
			RecentTimeline: timeline,
		})

		inboundPayload := map[string]any{
			"text":       text,
			"nodeBefore": state.Node,
			"scenarioId": scenario.ID.String(),
			"mode":       scenario.Mode,
		}
		if scenario.Mode == autopilot.ModeAI {
			inboundPayload["fallbackUsed"] = tr.FallbackUsed
			if tr.Meta != nil {
				inboundPayload["planner"] = tr.Meta
			}
		}
		inboundEvt, err := r.Leads.AppendEventRecord(ctx, workspaceID, leadID, domain.EventAutopilotInbound, inboundPayload)
		if err != nil {
			return err
		}

		if scenario.Mode == autopilot.ModeAI && tr.Meta != nil {
			if err := r.Leads.AppendEvent(ctx, workspaceID, leadID, domain.EventAutopilotPlanned, map[string]any{
				"model":        tr.Meta.Model,
				"latencyMs":    tr.Meta.LatencyMs,
				"jsonValid":    tr.Meta.JSONValid,
				"fallbackUsed": tr.FallbackUsed,
				"promptPreview": autopilot.PromptPreview(autopilot.ResolvePrompt(scenario.AIPrompt, autopilot.PromptVars{
					AgentName:          scenario.AgentName,
					CompanyName:        scenario.CompanyName,
					CompanyDescription: scenario.CompanyDescription,
					OfferSummary:       scenario.OfferSummary,
					CalendarLinkRaw:    scenario.CalendarLinkRaw,
					LeadName:           lead.FullName(),
					MaxQuestions:       scenario.MaxQuestions,
				})),
			}); err != nil {
				return err
			}
		}

		state.Node = tr.Node
		state.QuestionIndex = tr.QuestionIndex
		state.MergeAnswers(tr.AnswersUpdate)

		status := run.Status
		if tr.Terminal || state.Node == autopilot.NodeHandover {
			status = autopilot.RunStatusHandedOver
		}
		now := time.Now().UTC()
		if err := r.Runs.ApplyTransition(ctx, run.ID, status, state.Node, state.Marshal(), now); err != nil {
			return err
		}

		if tr.Terminal {
			if scenario.HandoverUserID != nil {
				if err := r.Leads.SetOwner(ctx, leadID, *scenario.HandoverUserID); err != nil {
					return err
				}
			}
			if _, err := r.SLA.AdvanceStage(ctx, leadID, sladomain.StageHandover, nil); err != nil {
				// A flow without a handover stage must not fail the reply.
				if !errors.Is(err, slaservice.ErrStageDefinitionMissing) {
					return err
				}
				s.log.Warn("flow has no handover stage", "leadId", leadID)
			}
		} else {
			// The inbound reply itself can satisfy the running stage.
			if _, err := r.SLA.StopCurrentStageIfProofQualifies(ctx, leadID, sladomain.ProofReplyReceived, inboundEvt.ID); err != nil {
				return err
			}
		}

		var handover *handoverInfo
		if tr.Terminal {
			handover = &handoverInfo{scenario: scenario, reason: state.Answers["handoverReason"]}
		}
		queued, blocked, err := s.queueOutbound(ctx, r, lead, run, tr.Text, handover)
		if err != nil {
			return err
		}

		out = ReplyResult{
			LeadID: leadID,
			Autopilot: AutopilotView{
				Status:  status,
				Node:    state.Node,
				Answers: state.Answers,
			},
			QueuedMessage:  queued,
			MessageBlocked: blocked,
		}
		return nil
	})
	if err != nil {
		return ReplyResult{}, err
	}
	return out, nil
}

// ListLeads returns a workspace's newest leads.
func (s *Service) ListLeads(ctx context.Context, workspaceID uuid.UUID, limit int) ([]domain.Lead, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var out []domain.Lead
	err := s.tx.InTx(ctx, func(ctx context.Context, r Repos) error {
		leads, err := r.Leads.ListLeads(ctx, workspaceID, limit)
		if err != nil {
			return err
		}
		out = leads
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordProof appends a proof event and stops the current stage when the
// proof type qualifies.
func (s *Service) RecordProof(ctx context.Context, workspaceID, leadID uuid.UUID, proofType string, payload map[string]any) (ProofResult, error) {
	var out ProofResult
	err := s.tx.InTx(ctx, func(ctx context.Context, r Repos) error {
		if _, err := r.Leads.GetLead(ctx, workspaceID, leadID); err != nil {
			return err
		}

		canonical := sladomain.CanonicalProofType(proofType)
		evt, err := r.Leads.AppendEventRecord(ctx, workspaceID, leadID, canonical, payload)
		if err != nil {
			return err
		}

		stopped, err := r.SLA.StopCurrentStageIfProofQualifies(ctx, leadID, proofType, evt.ID)
		if err != nil {
			return err
		}

		out = ProofResult{Event: evt, StoppedStage: stopped}
		return nil
	})
	if err != nil {
		return ProofResult{}, err
	}
	return out, nil
}

// Sweep runs breach detection and the escalation tiers. Invoked both
// opportunistically from request handling and on an interval by the
// scheduler; it is idempotent either way.
func (s *Service) Sweep(ctx context.Context, workspaceID *uuid.UUID) (SweepReport, error) {
	started := time.Now()
	var out SweepReport
	err := s.tx.InTx(ctx, func(ctx context.Context, r Repos) error {
		now := time.Now().UTC()

		// Snapshot overdue instances before marking so breach events can be
		// logged exactly once.
		running, err := r.SLAInstances.ListRunning(ctx, workspaceID)
		if err != nil {
			return err
		}
		var overdue []sladomain.StageInstance
		for _, inst := range running {
			if inst.DueAt.Before(now) {
				overdue = append(overdue, inst)
			}
		}

		count, err := r.SLA.DetectBreaches(ctx, workspaceID, &now)
		if err != nil {
			return err
		}
		for _, inst := range overdue {
			if err := r.Leads.AppendEvent(ctx, inst.WorkspaceID, inst.LeadID, domain.EventStageBreached, map[string]any{
				"stageKey": inst.StageKey,
				"dueAt":    inst.DueAt,
			}); err != nil {
				return err
			}
		}

		stats, err := r.Escalation.Sweep(ctx, workspaceID, &now)
		if err != nil {
			return err
		}

		out = SweepReport{Breaches: count, Escalation: stats}
		return nil
	})
	if err != nil {
		return SweepReport{}, err
	}

	s.log.SweepResult("sla", out.Breaches+out.Escalation.Reminders+out.Escalation.Reassignments+out.Escalation.ManagerAlerts,
		float64(time.Since(started).Milliseconds()))
	return out, nil
}

type handoverInfo struct {
	scenario *autopilot.Scenario
	reason   string
}

// queueOutbound resolves the lead's phone and queues one message, emitting
// message_blocked when no usable phone exists. The caller's state changes
// commit either way. A terminal transition logs autopilot_handover before
// message_queued.
func (s *Service) queueOutbound(ctx context.Context, r Repos, lead domain.Lead, run *autopilot.Run, text string, handover *handoverInfo) (*QueuedMessage, bool, error) {
	if text == "" {
		return nil, false, nil
	}

	if !phone.IsUsable(lead.Phone) {
		if err := r.Leads.AppendEvent(ctx, lead.WorkspaceID, lead.ID, domain.EventMessageBlocked, map[string]any{
			"reason": "missing_phone",
		}); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	toPhone := phone.NormalizeE164(lead.Phone)

	if handover != nil {
		payload := map[string]any{
			"scenarioId": handover.scenario.ID.String(),
		}
		if handover.scenario.HandoverUserID != nil {
			payload["handoverUserId"] = handover.scenario.HandoverUserID.String()
		}
		if handover.reason != "" {
			payload["reason"] = handover.reason
		}
		if err := r.Leads.AppendEvent(ctx, lead.WorkspaceID, lead.ID, domain.EventAutopilotHandover, payload); err != nil {
			return nil, false, err
		}
	}

	msg, err := r.Leads.QueueMessage(ctx, domain.OutboundMessage{
		WorkspaceID: lead.WorkspaceID,
		LeadID:      lead.ID,
		ToPhone:     toPhone,
		Body:        text,
	})
	if err != nil {
		return nil, false, err
	}
	if err := r.Leads.AppendEvent(ctx, lead.WorkspaceID, lead.ID, domain.EventMessageQueued, map[string]any{
		"messageId": msg.ID.String(),
		"toPhone":   toPhone,
	}); err != nil {
		return nil, false, err
	}
	if err := r.Runs.TouchOutbound(ctx, run.ID, time.Now().UTC()); err != nil {
		return nil, false, err
	}

	return &QueuedMessage{ID: msg.ID, Text: msg.Body, ToPhone: msg.ToPhone}, false, nil
}
