package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/autopilot"
	"leadflow_backend/internal/bizhours"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/routing"
	sladomain "leadflow_backend/internal/sla/domain"
	"leadflow_backend/internal/sla/escalation"
	slaservice "leadflow_backend/internal/sla/service"
	"leadflow_backend/internal/workspaces"
	"leadflow_backend/platform/ai"
	"leadflow_backend/platform/logger"
)

// memStore is an in-memory implementation of every persistence surface the
// service composes, so the full flow runs without a database.
type memStore struct {
	leads     map[uuid.UUID]*domain.Lead
	events    []domain.Event
	outbound  []domain.OutboundMessage
	runs      map[uuid.UUID]*autopilot.Run
	scenarios []*autopilot.Scenario
	wss       map[uuid.UUID]workspaces.Workspace
	flows     map[uuid.UUID]*workspaces.Flow
	members   map[uuid.UUID][]workspaces.Membership
	instances []*sladomain.StageInstance
	defs      map[string]*sladomain.StageDefinition
	rules     map[string]*sladomain.EscalationRule
	bh        map[uuid.UUID]bizhours.Config
}

func newMemStore() *memStore {
	return &memStore{
		leads:   map[uuid.UUID]*domain.Lead{},
		runs:    map[uuid.UUID]*autopilot.Run{},
		wss:     map[uuid.UUID]workspaces.Workspace{},
		flows:   map[uuid.UUID]*workspaces.Flow{},
		members: map[uuid.UUID][]workspaces.Membership{},
		defs:    map[string]*sladomain.StageDefinition{},
		rules:   map[string]*sladomain.EscalationRule{},
		bh:      map[uuid.UUID]bizhours.Config{},
	}
}

func pairKey(flowID uuid.UUID, stageKey string) string {
	return flowID.String() + "/" + stageKey
}

// LeadStore

func (m *memStore) CreateLead(_ context.Context, l domain.Lead) (domain.Lead, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt
	copied := l
	m.leads[l.ID] = &copied
	return l, nil
}

func (m *memStore) GetLead(_ context.Context, workspaceID, leadID uuid.UUID) (domain.Lead, error) {
	l, ok := m.leads[leadID]
	if !ok || l.WorkspaceID != workspaceID {
		return domain.Lead{}, errors.New("lead not found")
	}
	return *l, nil
}

func (m *memStore) ListLeads(_ context.Context, workspaceID uuid.UUID, limit int) ([]domain.Lead, error) {
	var all []domain.Lead
	for _, l := range m.leads {
		if l.WorkspaceID == workspaceID {
			all = append(all, *l)
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) GetOwner(_ context.Context, leadID uuid.UUID) (*uuid.UUID, error) {
	l, ok := m.leads[leadID]
	if !ok {
		return nil, errors.New("lead not found")
	}
	return l.OwnerUserID, nil
}

func (m *memStore) SetOwner(_ context.Context, leadID uuid.UUID, ownerUserID uuid.UUID) error {
	l, ok := m.leads[leadID]
	if !ok {
		return errors.New("lead not found")
	}
	owner := ownerUserID
	l.OwnerUserID = &owner
	return nil
}

func (m *memStore) AppendEvent(ctx context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) error {
	_, err := m.AppendEventRecord(ctx, workspaceID, leadID, eventType, payload)
	return err
}

func (m *memStore) AppendEventRecord(_ context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) (domain.Event, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	e := domain.Event{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		LeadID:      leadID,
		EventType:   eventType,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
	}
	m.events = append(m.events, e)
	return e, nil
}

func (m *memStore) ExistsSince(_ context.Context, leadID uuid.UUID, eventType string, since time.Time) (bool, error) {
	for _, e := range m.events {
		if e.LeadID == leadID && e.EventType == eventType && !e.OccurredAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AnyExistsSince(ctx context.Context, leadID uuid.UUID, eventTypes []string, since time.Time) (bool, error) {
	for _, et := range eventTypes {
		ok, _ := m.ExistsSince(ctx, leadID, et, since)
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListRecentEvents(_ context.Context, leadID uuid.UUID, limit int) ([]domain.Event, error) {
	var all []domain.Event
	for _, e := range m.events {
		if e.LeadID == leadID {
			all = append(all, e)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *memStore) QueueMessage(_ context.Context, msg domain.OutboundMessage) (domain.OutboundMessage, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Status = domain.MessageQueued
	msg.QueuedAt = time.Now().UTC()
	m.outbound = append(m.outbound, msg)
	return msg, nil
}

func (m *memStore) ListRecentOutbound(_ context.Context, leadID uuid.UUID, limit int) ([]string, error) {
	var all []string
	for _, msg := range m.outbound {
		if msg.LeadID == leadID {
			all = append(all, msg.Body)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// RunStore

func (m *memStore) GetScenario(_ context.Context, workspaceID, scenarioID uuid.UUID) (*autopilot.Scenario, error) {
	for _, s := range m.scenarios {
		if s.WorkspaceID == workspaceID && s.ID == scenarioID {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindDefaultScenario(_ context.Context, workspaceID uuid.UUID) (*autopilot.Scenario, error) {
	for _, s := range m.scenarios {
		if s.WorkspaceID == workspaceID && s.IsDefault {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindEarliestScenario(_ context.Context, workspaceID uuid.UUID) (*autopilot.Scenario, error) {
	var earliest *autopilot.Scenario
	for _, s := range m.scenarios {
		if s.WorkspaceID != workspaceID {
			continue
		}
		if earliest == nil || s.CreatedAt.Before(earliest.CreatedAt) {
			earliest = s
		}
	}
	return earliest, nil
}

func (m *memStore) MarkDefault(_ context.Context, workspaceID, scenarioID uuid.UUID) error {
	for _, s := range m.scenarios {
		if s.WorkspaceID == workspaceID {
			s.IsDefault = s.ID == scenarioID
		}
	}
	return nil
}

func (m *memStore) CreateScenario(_ context.Context, s *autopilot.Scenario) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now().UTC()
	m.scenarios = append(m.scenarios, s)
	return nil
}

func (m *memStore) CreateRun(_ context.Context, run *autopilot.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.CreatedAt = time.Now().UTC()
	m.runs[run.LeadID] = run
	return nil
}

func (m *memStore) GetRunByLead(_ context.Context, leadID uuid.UUID, _ bool) (*autopilot.Run, error) {
	return m.runs[leadID], nil
}

func (m *memStore) ApplyTransition(_ context.Context, runID uuid.UUID, status, currentStep string, stateJSON []byte, inboundAt time.Time) error {
	for _, run := range m.runs {
		if run.ID == runID {
			run.Status = status
			run.CurrentStep = currentStep
			run.StateJSON = stateJSON
			at := inboundAt
			run.LastInboundAt = &at
			return nil
		}
	}
	return errors.New("run not found")
}

func (m *memStore) TouchOutbound(_ context.Context, runID uuid.UUID, at time.Time) error {
	for _, run := range m.runs {
		if run.ID == runID {
			stamped := at
			run.LastOutboundAt = &stamped
			return nil
		}
	}
	return errors.New("run not found")
}

// WorkspaceReader, MembershipReader, FlowReader

func (m *memStore) GetWorkspace(_ context.Context, id uuid.UUID) (workspaces.Workspace, error) {
	ws, ok := m.wss[id]
	if !ok {
		return workspaces.Workspace{}, errors.New("workspace not found")
	}
	return ws, nil
}

func (m *memStore) GetFlow(_ context.Context, id uuid.UUID) (workspaces.Flow, error) {
	f, ok := m.flows[id]
	if !ok {
		return workspaces.Flow{}, errors.New("flow not found")
	}
	return *f, nil
}

func (m *memStore) GetDefaultFlow(_ context.Context, workspaceID uuid.UUID) (workspaces.Flow, error) {
	var earliest *workspaces.Flow
	for _, f := range m.flows {
		if f.WorkspaceID != workspaceID {
			continue
		}
		if earliest == nil || f.CreatedAt.Before(earliest.CreatedAt) {
			earliest = f
		}
	}
	if earliest == nil {
		return workspaces.Flow{}, errors.New("workspace has no flows")
	}
	return *earliest, nil
}

func (m *memStore) ListActiveMemberships(_ context.Context, workspaceID uuid.UUID) ([]workspaces.Membership, error) {
	return m.members[workspaceID], nil
}

func (m *memStore) UpdateRoutingCursor(_ context.Context, flowID uuid.UUID, cursor int) error {
	f, ok := m.flows[flowID]
	if !ok {
		return errors.New("flow not found")
	}
	f.RoundRobinCursor = cursor
	return nil
}

// StageInstanceStore

func (m *memStore) Create(_ context.Context, inst sladomain.StageInstance) (sladomain.StageInstance, error) {
	inst.ID = uuid.New()
	copied := inst
	m.instances = append(m.instances, &copied)
	return inst, nil
}

func (m *memStore) FindRunning(_ context.Context, leadID, flowID uuid.UUID, stageKey string) (*sladomain.StageInstance, error) {
	var latest *sladomain.StageInstance
	for _, inst := range m.instances {
		if inst.LeadID == leadID && inst.FlowID == flowID && inst.StageKey == stageKey && inst.Status == sladomain.StatusRunning {
			if latest == nil || inst.StartedAt.After(latest.StartedAt) {
				latest = inst
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memStore) FindRunningByLead(_ context.Context, leadID uuid.UUID) (*sladomain.StageInstance, error) {
	var latest *sladomain.StageInstance
	for _, inst := range m.instances {
		if inst.LeadID == leadID && inst.Status == sladomain.StatusRunning {
			if latest == nil || inst.StartedAt.After(latest.StartedAt) {
				latest = inst
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memStore) ListRunning(_ context.Context, workspaceID *uuid.UUID) ([]sladomain.StageInstance, error) {
	var items []sladomain.StageInstance
	for _, inst := range m.instances {
		if inst.Status != sladomain.StatusRunning {
			continue
		}
		if workspaceID != nil && inst.WorkspaceID != *workspaceID {
			continue
		}
		items = append(items, *inst)
	}
	return items, nil
}

func (m *memStore) MarkStopped(_ context.Context, id uuid.UUID, stoppedAt time.Time, reason string, proofEventID *uuid.UUID) error {
	for _, inst := range m.instances {
		if inst.ID == id && inst.Status == sladomain.StatusRunning {
			inst.Status = sladomain.StatusStopped
			at := stoppedAt
			inst.StoppedAt = &at
			r := reason
			inst.StopReason = &r
			inst.ProofEventID = proofEventID
			return nil
		}
	}
	return nil
}

func (m *memStore) MarkBreachedDue(_ context.Context, workspaceID *uuid.UUID, now time.Time) (int, error) {
	count := 0
	for _, inst := range m.instances {
		if inst.Status != sladomain.StatusRunning || !inst.DueAt.Before(now) {
			continue
		}
		if workspaceID != nil && inst.WorkspaceID != *workspaceID {
			continue
		}
		inst.Status = sladomain.StatusBreached
		at := now
		inst.BreachedAt = &at
		reason := sladomain.ReasonDeadlineExceeded
		inst.StopReason = &reason
		count++
	}
	return count, nil
}

// FlowConfigReader

func (m *memStore) StageDefinition(_ context.Context, flowID uuid.UUID, stageKey string) (*sladomain.StageDefinition, error) {
	return m.defs[pairKey(flowID, stageKey)], nil
}

func (m *memStore) EscalationRule(_ context.Context, flowID uuid.UUID, stageKey string) (*sladomain.EscalationRule, error) {
	return m.rules[pairKey(flowID, stageKey)], nil
}

func (m *memStore) FlowContext(_ context.Context, flowID uuid.UUID) (uuid.UUID, bizhours.Config, error) {
	f, ok := m.flows[flowID]
	if !ok {
		return uuid.Nil, bizhours.Config{}, errors.New("flow not found")
	}
	return f.WorkspaceID, m.bh[f.WorkspaceID], nil
}

type recordedNotification struct {
	userID    uuid.UUID
	notifType string
}

type memNotifier struct {
	sent []recordedNotification
}

func (n *memNotifier) Notify(_ context.Context, _, userID uuid.UUID, notifType, _, _ string) error {
	n.sent = append(n.sent, recordedNotification{userID: userID, notifType: notifType})
	return nil
}

// memRunner wires the in-memory store into Repos for each unit of work.
type memRunner struct {
	st       *memStore
	notifier *memNotifier
	log      *logger.Logger
}

func (r *memRunner) InTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	routingEngine := routing.New(r.st, r.st, r.st, r.st, r.log)
	detector := escalation.New(r.st, r.st, r.st, routingEngine, r.st, r.st, r.notifier, r.log)
	return fn(ctx, Repos{
		Leads:        r.st,
		Runs:         r.st,
		Workspaces:   r.st,
		SLAInstances: r.st,
		SLA:          slaservice.New(r.st, r.st, r.log),
		Routing:      routingEngine,
		Resolver:     autopilot.NewResolver(r.st, r.log),
		Escalation:   detector,
	})
}

type failingProvider struct{}

func (failingProvider) Complete(_ context.Context, _ []ai.Message) (ai.Completion, error) {
	return ai.Completion{}, errors.New("provider unreachable")
}

type fixture struct {
	svc         *Service
	st          *memStore
	notifier    *memNotifier
	workspaceID uuid.UUID
	flowID      uuid.UUID
	agentID     uuid.UUID
}

func newFixture(t *testing.T, provider ai.Provider) *fixture {
	t.Helper()
	log := logger.New("development")
	st := newMemStore()
	notifier := &memNotifier{}

	workspaceID := uuid.New()
	st.wss[workspaceID] = workspaces.Workspace{ID: workspaceID, Name: "AcmeDental", Timezone: "Europe/Bucharest"}
	st.bh[workspaceID] = bizhours.Config{Enabled: false}

	agentID := uuid.New()
	st.members[workspaceID] = []workspaces.Membership{
		{WorkspaceID: workspaceID, UserID: agentID, Role: workspaces.RoleAgent, Status: workspaces.MembershipStatusActive, IsAvailable: true},
	}

	flowID := uuid.New()
	st.flows[flowID] = &workspaces.Flow{
		ID:             flowID,
		WorkspaceID:    workspaceID,
		Name:           "inbound",
		EligibleAgents: []uuid.UUID{agentID},
		CreatedAt:      time.Now().UTC(),
	}

	st.defs[pairKey(flowID, sladomain.StageFirstTouch)] = &sladomain.StageDefinition{
		FlowID: flowID, Key: sladomain.StageFirstTouch, Name: "First touch",
		TargetMinutes: 15, StopOnProofTypes: []string{sladomain.ProofMessageSent, sladomain.ProofCallLogged},
	}
	st.defs[pairKey(flowID, sladomain.StageQualification)] = &sladomain.StageDefinition{
		FlowID: flowID, Key: sladomain.StageQualification, Name: "Qualification",
		TargetMinutes: 120, StopOnProofTypes: []string{sladomain.ProofReplyReceived, sladomain.ProofMeetingCreated},
	}
	st.defs[pairKey(flowID, sladomain.StageHandover)] = &sladomain.StageDefinition{
		FlowID: flowID, Key: sladomain.StageHandover, Name: "Handover", TargetMinutes: 60,
	}

	engine := autopilot.NewEngine(autopilot.NewPlanner(provider, log), log)
	svc := New(&memRunner{st: st, notifier: notifier, log: log}, engine, log)
	return &fixture{svc: svc, st: st, notifier: notifier, workspaceID: workspaceID, flowID: flowID, agentID: agentID}
}

func (f *fixture) addAIScenario(t *testing.T, maxQuestions int) *autopilot.Scenario {
	t.Helper()
	scenario := &autopilot.Scenario{
		WorkspaceID:  f.workspaceID,
		Name:         "AI qualification",
		Mode:         autopilot.ModeAI,
		MaxQuestions: maxQuestions,
		SLAMinutes:   15,
		AIPrompt:     "Esti asistentul de vanzari pentru AcmeDental. Califica leadul in {maxQuestions} intrebari.",
		IsDefault:    true,
	}
	if err := f.st.CreateScenario(context.Background(), scenario); err != nil {
		t.Fatalf("create scenario: %v", err)
	}
	return scenario
}

func (f *fixture) countEvents(leadID uuid.UUID, eventType string) int {
	n := 0
	for _, e := range f.st.events {
		if e.LeadID == leadID && e.EventType == eventType {
			n++
		}
	}
	return n
}

func TestEndToEndAIScenarioWithFallback(t *testing.T) {
	f := newFixture(t, failingProvider{})
	scenario := f.addAIScenario(t, 3)

	ingested, err := f.svc.Ingest(context.Background(), IngestInput{
		WorkspaceID: f.workspaceID,
		FirstName:   "Maria",
		LastName:    "Pop",
		Phone:       "+40722334455",
		Email:       "maria@example.com",
		Source:      "landing_page",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	state := autopilot.ParseState(ingested.Run.StateJSON)
	if state.Node != autopilot.NodeStart || state.QuestionIndex != 0 {
		t.Fatalf("initial state wrong: %+v", state)
	}
	if ingested.QueuedMessage == nil || !strings.Contains(ingested.QueuedMessage.Text, "AcmeDental") {
		t.Fatalf("greeting missing or off-brand: %+v", ingested.QueuedMessage)
	}
	if ingested.Assignment.OwnerUserID == nil || *ingested.Assignment.OwnerUserID != f.agentID {
		t.Fatalf("lead not assigned to agent: %+v", ingested.Assignment)
	}
	if ingested.Stage.StageKey != sladomain.StageFirstTouch || ingested.Stage.Status != sladomain.StatusRunning {
		t.Fatalf("first stage not running: %+v", ingested.Stage)
	}

	leadID := ingested.Lead.ID

	// Reply 1: price question.
	res, err := f.svc.ProcessReply(context.Background(), f.workspaceID, leadID, "pret")
	if err != nil {
		t.Fatalf("reply 1: %v", err)
	}
	if res.Autopilot.Status != autopilot.RunStatusActive {
		t.Fatalf("reply 1 status = %q", res.Autopilot.Status)
	}
	if res.Autopilot.Answers["intent"] != "pricing" {
		t.Fatalf("reply 1 answers: %+v", res.Autopilot.Answers)
	}
	if got := autopilot.ParseState(f.st.runs[leadID].StateJSON).QuestionIndex; got != 1 {
		t.Fatalf("reply 1 questionIndex = %d", got)
	}
	if res.QueuedMessage == nil || !strings.Contains(res.QueuedMessage.Text, "AcmeDental") {
		t.Fatalf("reply 1 outbound off-brand: %+v", res.QueuedMessage)
	}

	// Reply 2: free-text detail.
	res, err = f.svc.ProcessReply(context.Background(), f.workspaceID, leadID, "serviciu detartraj")
	if err != nil {
		t.Fatalf("reply 2: %v", err)
	}
	if res.Autopilot.Status != autopilot.RunStatusActive {
		t.Fatalf("reply 2 status = %q", res.Autopilot.Status)
	}
	if got := autopilot.ParseState(f.st.runs[leadID].StateJSON).QuestionIndex; got != 2 {
		t.Fatalf("reply 2 questionIndex = %d", got)
	}
	if res.QueuedMessage == nil || !strings.Contains(res.QueuedMessage.Text, "AcmeDental") {
		t.Fatalf("reply 2 outbound off-brand: %+v", res.QueuedMessage)
	}

	// Reply 3 exhausts the budget and hands over.
	res, err = f.svc.ProcessReply(context.Background(), f.workspaceID, leadID, "da, multumesc")
	if err != nil {
		t.Fatalf("reply 3: %v", err)
	}
	if res.Autopilot.Status != autopilot.RunStatusHandedOver || res.Autopilot.Node != autopilot.NodeHandover {
		t.Fatalf("reply 3 should hand over: %+v", res.Autopilot)
	}
	if got := autopilot.ParseState(f.st.runs[leadID].StateJSON).QuestionIndex; got != 3 {
		t.Fatalf("reply 3 questionIndex = %d", got)
	}

	if n := f.countEvents(leadID, domain.EventAutopilotInbound); n != 3 {
		t.Fatalf("autopilot_inbound events = %d, want 3", n)
	}
	for _, e := range f.st.events {
		if e.LeadID == leadID && e.EventType == domain.EventAutopilotInbound {
			if e.Payload["mode"] != autopilot.ModeAI {
				t.Fatalf("inbound event mode = %v", e.Payload["mode"])
			}
		}
	}
	if n := f.countEvents(leadID, domain.EventAutopilotHandover); n != 1 {
		t.Fatalf("autopilot_handover events = %d, want 1", n)
	}
	for _, e := range f.st.events {
		if e.LeadID == leadID && e.EventType == domain.EventAutopilotHandover {
			if e.Payload["scenarioId"] != scenario.ID.String() {
				t.Fatalf("handover event scenario = %v", e.Payload["scenarioId"])
			}
		}
	}
	if n := f.countEvents(leadID, domain.EventMessageQueued); n < 4 {
		t.Fatalf("message_queued events = %d, want >= 4", n)
	}

	// Handover advanced the SLA pipeline onto the handover stage.
	current, _ := f.st.FindRunningByLead(context.Background(), leadID)
	if current == nil || current.StageKey != sladomain.StageHandover {
		t.Fatalf("expected running handover stage, got %+v", current)
	}
}

func TestProcessReplyBlockedWithoutPhoneStillAdvances(t *testing.T) {
	f := newFixture(t, failingProvider{})
	f.addAIScenario(t, 3)

	ingested, err := f.svc.Ingest(context.Background(), IngestInput{
		WorkspaceID: f.workspaceID,
		FirstName:   "Ion",
		Source:      "manual",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	leadID := ingested.Lead.ID
	if !ingested.MessageBlocked {
		t.Fatal("greeting should be blocked without a phone")
	}

	res, err := f.svc.ProcessReply(context.Background(), f.workspaceID, leadID, "pret")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !res.MessageBlocked || res.QueuedMessage != nil {
		t.Fatalf("expected blocked delivery: %+v", res)
	}
	// The conversation logically advanced even though delivery failed.
	if res.Autopilot.Answers["intent"] != "pricing" {
		t.Fatalf("state did not advance: %+v", res.Autopilot)
	}
	if n := f.countEvents(leadID, domain.EventMessageBlocked); n != 2 {
		t.Fatalf("message_blocked events = %d, want 2", n)
	}
	if n := f.countEvents(leadID, domain.EventMessageQueued); n != 0 {
		t.Fatalf("nothing should be queued, got %d", n)
	}
}

func TestRecordProofStopsQualifyingStage(t *testing.T) {
	f := newFixture(t, failingProvider{})
	f.addAIScenario(t, 3)

	ingested, err := f.svc.Ingest(context.Background(), IngestInput{
		WorkspaceID: f.workspaceID,
		FirstName:   "Ana",
		Phone:       "+40722334455",
		Source:      "form",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	leadID := ingested.Lead.ID

	// Synonym spelling must canonicalize and stop first_touch.
	res, err := f.svc.RecordProof(context.Background(), f.workspaceID, leadID, "whatsapp_sent", map[string]any{"channel": "whatsapp"})
	if err != nil {
		t.Fatalf("record proof: %v", err)
	}
	if res.StoppedStage == nil || res.StoppedStage.StageKey != sladomain.StageFirstTouch {
		t.Fatalf("expected first_touch stopped, got %+v", res.StoppedStage)
	}
	if res.StoppedStage.StopReason == nil || *res.StoppedStage.StopReason != "proof:message_sent" {
		t.Fatalf("stop reason = %v", res.StoppedStage.StopReason)
	}
	if res.Event.EventType != sladomain.ProofMessageSent {
		t.Fatalf("proof event logged as %q", res.Event.EventType)
	}

	// A non-qualifying proof is a no-op on a pipeline with nothing running.
	res, err = f.svc.RecordProof(context.Background(), f.workspaceID, leadID, sladomain.ProofManualNote, nil)
	if err != nil {
		t.Fatalf("second proof: %v", err)
	}
	if res.StoppedStage != nil {
		t.Fatalf("nothing should stop twice: %+v", res.StoppedStage)
	}
}

func TestSweepDetectsBreachesOnce(t *testing.T) {
	f := newFixture(t, failingProvider{})
	f.addAIScenario(t, 3)

	ingested, err := f.svc.Ingest(context.Background(), IngestInput{
		WorkspaceID: f.workspaceID,
		FirstName:   "Radu",
		Phone:       "+40722334455",
		Source:      "form",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	leadID := ingested.Lead.ID

	// Age the running stage past its deadline.
	for _, inst := range f.st.instances {
		if inst.LeadID == leadID {
			inst.StartedAt = inst.StartedAt.Add(-2 * time.Hour)
			inst.DueAt = inst.DueAt.Add(-2 * time.Hour)
		}
	}

	report, err := f.svc.Sweep(context.Background(), &f.workspaceID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Breaches != 1 {
		t.Fatalf("breaches = %d, want 1", report.Breaches)
	}
	if n := f.countEvents(leadID, domain.EventStageBreached); n != 1 {
		t.Fatalf("stage_breached events = %d, want 1", n)
	}

	report, err = f.svc.Sweep(context.Background(), &f.workspaceID)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Breaches != 0 {
		t.Fatalf("second sweep breaches = %d, want 0", report.Breaches)
	}
	if n := f.countEvents(leadID, domain.EventStageBreached); n != 1 {
		t.Fatalf("stage_breached events after second sweep = %d, want 1", n)
	}
}

func TestSweepEscalatesStalledStage(t *testing.T) {
	f := newFixture(t, failingProvider{})
	f.addAIScenario(t, 3)
	f.st.rules[pairKey(f.flowID, sladomain.StageFirstTouch)] = &sladomain.EscalationRule{
		FlowID: f.flowID, StageKey: sladomain.StageFirstTouch,
		Enabled: true, RemindAtPct: 50,
	}

	ingested, err := f.svc.Ingest(context.Background(), IngestInput{
		WorkspaceID: f.workspaceID,
		FirstName:   "Vlad",
		Phone:       "+40722334455",
		Source:      "form",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	leadID := ingested.Lead.ID

	// Move the stage to 60% elapsed: 9 of 15 minutes.
	for _, inst := range f.st.instances {
		if inst.LeadID == leadID {
			inst.StartedAt = inst.StartedAt.Add(-9 * time.Minute)
			inst.DueAt = inst.DueAt.Add(-9 * time.Minute)
		}
	}

	report, err := f.svc.Sweep(context.Background(), &f.workspaceID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Escalation.Reminders != 1 {
		t.Fatalf("reminders = %d, want 1", report.Escalation.Reminders)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].userID != f.agentID {
		t.Fatalf("owner not notified: %+v", f.notifier.sent)
	}
	if n := f.countEvents(leadID, domain.EventReminderSent); n != 1 {
		t.Fatalf("reminder_sent events = %d, want 1", n)
	}
}
