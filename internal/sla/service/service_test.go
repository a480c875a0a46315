package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/bizhours"
	"leadflow_backend/internal/sla/domain"
	"leadflow_backend/platform/logger"
)

type fakeStore struct {
	instances []domain.StageInstance
}

func (f *fakeStore) Create(_ context.Context, inst domain.StageInstance) (domain.StageInstance, error) {
	inst.ID = uuid.New()
	f.instances = append(f.instances, inst)
	return inst, nil
}

func (f *fakeStore) FindRunning(_ context.Context, leadID, flowID uuid.UUID, stageKey string) (*domain.StageInstance, error) {
	var found *domain.StageInstance
	for i := range f.instances {
		inst := &f.instances[i]
		if inst.LeadID == leadID && inst.FlowID == flowID && inst.StageKey == stageKey && inst.Status == domain.StatusRunning {
			if found == nil || inst.StartedAt.After(found.StartedAt) {
				found = inst
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	copied := *found
	return &copied, nil
}

func (f *fakeStore) FindRunningByLead(_ context.Context, leadID uuid.UUID) (*domain.StageInstance, error) {
	var found *domain.StageInstance
	for i := range f.instances {
		inst := &f.instances[i]
		if inst.LeadID == leadID && inst.Status == domain.StatusRunning {
			if found == nil || inst.StartedAt.After(found.StartedAt) {
				found = inst
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	copied := *found
	return &copied, nil
}

func (f *fakeStore) ListRunning(_ context.Context, workspaceID *uuid.UUID) ([]domain.StageInstance, error) {
	out := make([]domain.StageInstance, 0)
	for _, inst := range f.instances {
		if inst.Status != domain.StatusRunning {
			continue
		}
		if workspaceID != nil && inst.WorkspaceID != *workspaceID {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (f *fakeStore) MarkStopped(_ context.Context, id uuid.UUID, stoppedAt time.Time, reason string, proofEventID *uuid.UUID) error {
	for i := range f.instances {
		inst := &f.instances[i]
		if inst.ID == id && inst.Status == domain.StatusRunning {
			inst.Status = domain.StatusStopped
			inst.StoppedAt = &stoppedAt
			inst.StopReason = &reason
			inst.ProofEventID = proofEventID
		}
	}
	return nil
}

func (f *fakeStore) MarkBreachedDue(_ context.Context, workspaceID *uuid.UUID, now time.Time) (int, error) {
	count := 0
	for i := range f.instances {
		inst := &f.instances[i]
		if inst.Status != domain.StatusRunning || !inst.DueAt.Before(now) {
			continue
		}
		if workspaceID != nil && inst.WorkspaceID != *workspaceID {
			continue
		}
		reason := domain.ReasonDeadlineExceeded
		inst.Status = domain.StatusBreached
		inst.BreachedAt = &now
		inst.StopReason = &reason
		count++
	}
	return count, nil
}

type fakeConfig struct {
	workspaceID uuid.UUID
	definitions map[string]domain.StageDefinition // keyed by stageKey
	rules       map[string]domain.EscalationRule
	bizhours    bizhours.Config
}

func (f *fakeConfig) StageDefinition(_ context.Context, flowID uuid.UUID, stageKey string) (*domain.StageDefinition, error) {
	def, ok := f.definitions[stageKey]
	if !ok {
		return nil, nil
	}
	def.FlowID = flowID
	return &def, nil
}

func (f *fakeConfig) EscalationRule(_ context.Context, flowID uuid.UUID, stageKey string) (*domain.EscalationRule, error) {
	rule, ok := f.rules[stageKey]
	if !ok {
		return nil, nil
	}
	rule.FlowID = flowID
	return &rule, nil
}

func (f *fakeConfig) FlowContext(_ context.Context, _ uuid.UUID) (uuid.UUID, bizhours.Config, error) {
	return f.workspaceID, f.bizhours, nil
}

func newTestService() (*Service, *fakeStore, *fakeConfig) {
	store := &fakeStore{}
	config := &fakeConfig{
		workspaceID: uuid.New(),
		definitions: map[string]domain.StageDefinition{
			domain.StageFirstTouch: {
				Key:              domain.StageFirstTouch,
				Name:             "First touch",
				TargetMinutes:    30,
				StopOnProofTypes: []string{domain.ProofMessageSent, domain.ProofCallLogged},
			},
			domain.StageQualification: {
				Key:           domain.StageQualification,
				Name:          "Qualification",
				TargetMinutes: 120,
			},
		},
	}
	return New(store, config, logger.New("development")), store, config
}

func TestStartStageComputesDueAt(t *testing.T) {
	svc, store, _ := newTestService()
	leadID, flowID := uuid.New(), uuid.New()
	started := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

	inst, err := svc.StartStage(context.Background(), leadID, flowID, domain.StageFirstTouch, &started)
	if err != nil {
		t.Fatalf("StartStage: %v", err)
	}
	if inst.Status != domain.StatusRunning {
		t.Fatalf("expected RUNNING, got %s", inst.Status)
	}
	if want := started.Add(30 * time.Minute); !inst.DueAt.Equal(want) {
		t.Fatalf("dueAt %v, want %v", inst.DueAt, want)
	}
	if len(store.instances) != 1 {
		t.Fatalf("expected 1 persisted instance, got %d", len(store.instances))
	}
}

func TestStartStageMissingDefinition(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.StartStage(context.Background(), uuid.New(), uuid.New(), "no_such_stage", nil)
	if !errors.Is(err, ErrStageDefinitionMissing) {
		t.Fatalf("expected ErrStageDefinitionMissing, got %v", err)
	}
}

func TestStopStageNoRunningIsNoop(t *testing.T) {
	svc, store, _ := newTestService()

	inst, err := svc.StopStage(context.Background(), uuid.New(), uuid.New(), domain.StageFirstTouch, "manual", nil, nil)
	if err != nil {
		t.Fatalf("StopStage: %v", err)
	}
	if inst != nil {
		t.Fatalf("expected nil result, got %+v", inst)
	}
	if len(store.instances) != 0 {
		t.Fatal("no-op stop must not write")
	}
}

func TestStopStageStopsMostRecent(t *testing.T) {
	svc, store, _ := newTestService()
	leadID, flowID := uuid.New(), uuid.New()

	early := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	late := time.Date(2025, 3, 12, 11, 0, 0, 0, time.UTC)
	if _, err := svc.StartStage(context.Background(), leadID, flowID, domain.StageFirstTouch, &early); err != nil {
		t.Fatalf("StartStage: %v", err)
	}
	if _, err := svc.StartStage(context.Background(), leadID, flowID, domain.StageFirstTouch, &late); err != nil {
		t.Fatalf("StartStage: %v", err)
	}

	proofID := uuid.New()
	stopped, err := svc.StopStage(context.Background(), leadID, flowID, domain.StageFirstTouch, domain.ProofReason(domain.ProofMessageSent), &proofID, nil)
	if err != nil {
		t.Fatalf("StopStage: %v", err)
	}
	if stopped == nil {
		t.Fatal("expected a stopped instance")
	}
	if !stopped.StartedAt.Equal(late) {
		t.Fatalf("stopped the wrong instance: startedAt %v", stopped.StartedAt)
	}
	if stopped.ProofEventID == nil || *stopped.ProofEventID != proofID {
		t.Fatal("proof event id not linked")
	}

	// The earlier instance stays RUNNING.
	running := 0
	for _, inst := range store.instances {
		if inst.Status == domain.StatusRunning {
			running++
		}
	}
	if running != 1 {
		t.Fatalf("expected 1 remaining RUNNING instance, got %d", running)
	}
}

func TestAdvanceStage(t *testing.T) {
	svc, store, _ := newTestService()
	leadID, flowID := uuid.New(), uuid.New()
	started := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

	if _, err := svc.StartStage(context.Background(), leadID, flowID, domain.StageFirstTouch, &started); err != nil {
		t.Fatalf("StartStage: %v", err)
	}

	now := started.Add(10 * time.Minute)
	next, err := svc.AdvanceStage(context.Background(), leadID, domain.StageQualification, &now)
	if err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if next == nil || next.StageKey != domain.StageQualification {
		t.Fatalf("expected qualification instance, got %+v", next)
	}

	var old *domain.StageInstance
	for i := range store.instances {
		if store.instances[i].StageKey == domain.StageFirstTouch {
			old = &store.instances[i]
		}
	}
	if old == nil || old.Status != domain.StatusStopped {
		t.Fatal("previous stage not stopped")
	}
	if old.StopReason == nil || *old.StopReason != "advanced_to_qualification" {
		t.Fatalf("wrong stop reason: %v", old.StopReason)
	}
}

func TestAdvanceStageNothingRunning(t *testing.T) {
	svc, _, _ := newTestService()

	next, err := svc.AdvanceStage(context.Background(), uuid.New(), domain.StageQualification, nil)
	if err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if next != nil {
		t.Fatalf("expected nil for idle lead, got %+v", next)
	}
}

func TestDetectBreachesIdempotent(t *testing.T) {
	svc, store, _ := newTestService()
	leadID, flowID := uuid.New(), uuid.New()

	started := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	if _, err := svc.StartStage(context.Background(), leadID, flowID, domain.StageFirstTouch, &started); err != nil {
		t.Fatalf("StartStage: %v", err)
	}

	now := started.Add(2 * time.Hour)
	count, err := svc.DetectBreaches(context.Background(), nil, &now)
	if err != nil {
		t.Fatalf("DetectBreaches: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 breach, got %d", count)
	}

	count, err = svc.DetectBreaches(context.Background(), nil, &now)
	if err != nil {
		t.Fatalf("DetectBreaches second call: %v", err)
	}
	if count != 0 {
		t.Fatalf("second sweep must transition 0 rows, got %d", count)
	}

	inst := store.instances[0]
	if inst.Status != domain.StatusBreached {
		t.Fatalf("expected BREACHED, got %s", inst.Status)
	}
	if inst.StopReason == nil || *inst.StopReason != domain.ReasonDeadlineExceeded {
		t.Fatalf("wrong stop reason: %v", inst.StopReason)
	}
}

func TestStopCurrentStageIfProofQualifies(t *testing.T) {
	svc, _, _ := newTestService()
	leadID, flowID := uuid.New(), uuid.New()
	started := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

	if _, err := svc.StartStage(context.Background(), leadID, flowID, domain.StageFirstTouch, &started); err != nil {
		t.Fatalf("StartStage: %v", err)
	}

	// whatsapp_sent is a synonym of message_sent, which is in the stop set.
	stopped, err := svc.StopCurrentStageIfProofQualifies(context.Background(), leadID, "whatsapp_sent", uuid.New())
	if err != nil {
		t.Fatalf("StopCurrentStageIfProofQualifies: %v", err)
	}
	if stopped == nil {
		t.Fatal("synonym proof should stop the stage")
	}
	if stopped.StopReason == nil || *stopped.StopReason != "proof:message_sent" {
		t.Fatalf("wrong stop reason: %v", stopped.StopReason)
	}
}

func TestStopCurrentStageProofDoesNotQualify(t *testing.T) {
	svc, store, _ := newTestService()
	leadID, flowID := uuid.New(), uuid.New()
	started := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

	if _, err := svc.StartStage(context.Background(), leadID, flowID, domain.StageFirstTouch, &started); err != nil {
		t.Fatalf("StartStage: %v", err)
	}

	stopped, err := svc.StopCurrentStageIfProofQualifies(context.Background(), leadID, domain.ProofMeetingCreated, uuid.New())
	if err != nil {
		t.Fatalf("StopCurrentStageIfProofQualifies: %v", err)
	}
	if stopped != nil {
		t.Fatal("non-qualifying proof must not stop the stage")
	}
	if store.instances[0].Status != domain.StatusRunning {
		t.Fatal("stage must remain RUNNING")
	}
}
