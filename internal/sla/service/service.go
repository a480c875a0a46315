// Package service implements the SLA stage engine: stage-instance lifecycle,
// deadline computation, and breach detection.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/bizhours"
	"leadflow_backend/internal/sla/domain"
	"leadflow_backend/internal/sla/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// ErrStageDefinitionMissing marks a start attempt against a (flow, stage) pair
// with no configured definition. This is a data-integrity problem upstream,
// not a recoverable user error.
var ErrStageDefinitionMissing = errors.New("stage definition missing")

// Service is the SLA stage engine.
type Service struct {
	instances repository.StageInstanceStore
	config    repository.FlowConfigReader
	log       *logger.Logger
}

// New creates the stage engine.
func New(instances repository.StageInstanceStore, config repository.FlowConfigReader, log *logger.Logger) *Service {
	return &Service{instances: instances, config: config, log: log}
}

// StartStage computes the stage deadline and persists a new RUNNING instance.
// The caller must ensure no other RUNNING instance exists for (lead, stage);
// the engine does not dedupe.
func (s *Service) StartStage(ctx context.Context, leadID, flowID uuid.UUID, stageKey string, startedAt *time.Time) (domain.StageInstance, error) {
	def, err := s.config.StageDefinition(ctx, flowID, stageKey)
	if err != nil {
		return domain.StageInstance{}, err
	}
	if def == nil {
		return domain.StageInstance{}, apperr.Wrap(apperr.KindInternal,
			fmt.Sprintf("stage definition missing for flow %s stage %s", flowID, stageKey),
			ErrStageDefinitionMissing).WithOp("sla.StartStage")
	}

	workspaceID, bhConfig, err := s.config.FlowContext(ctx, flowID)
	if err != nil {
		return domain.StageInstance{}, err
	}

	started := time.Now().UTC()
	if startedAt != nil {
		started = *startedAt
	}

	// The stage definition can opt out of business hours even when the
	// workspace schedule is enabled.
	bhConfig.Enabled = bhConfig.Enabled && def.BusinessHoursEnabled
	dueAt := bizhours.ComputeDueAt(started, def.TargetMinutes, bhConfig)

	inst, err := s.instances.Create(ctx, domain.StageInstance{
		WorkspaceID: workspaceID,
		LeadID:      leadID,
		FlowID:      flowID,
		StageKey:    stageKey,
		StartedAt:   started,
		DueAt:       dueAt,
		Status:      domain.StatusRunning,
	})
	if err != nil {
		return domain.StageInstance{}, err
	}

	s.log.Info("stage started",
		"leadId", leadID, "flowId", flowID, "stage", stageKey, "dueAt", dueAt)
	return inst, nil
}

// StopStage stops the most-recently-started RUNNING instance matching the
// triple. Returns nil when nothing is running: stop calls can race with
// already-stopped stages and that is not an error.
func (s *Service) StopStage(ctx context.Context, leadID, flowID uuid.UUID, stageKey, reason string, proofEventID *uuid.UUID, stoppedAt *time.Time) (*domain.StageInstance, error) {
	inst, err := s.instances.FindRunning(ctx, leadID, flowID, stageKey)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}

	stopped := time.Now().UTC()
	if stoppedAt != nil {
		stopped = *stoppedAt
	}

	if err := s.instances.MarkStopped(ctx, inst.ID, stopped, reason, proofEventID); err != nil {
		return nil, err
	}

	inst.Status = domain.StatusStopped
	inst.StoppedAt = &stopped
	inst.StopReason = &reason
	inst.ProofEventID = proofEventID

	s.log.Info("stage stopped", "leadId", leadID, "stage", stageKey, "reason", reason)
	return inst, nil
}

// AdvanceStage stops the lead's current RUNNING stage (any key) and starts
// toStageKey on the same flow. No-op when nothing is running.
func (s *Service) AdvanceStage(ctx context.Context, leadID uuid.UUID, toStageKey string, now *time.Time) (*domain.StageInstance, error) {
	current, err := s.instances.FindRunningByLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	if _, err := s.StopStage(ctx, leadID, current.FlowID, current.StageKey,
		domain.AdvanceReason(toStageKey), nil, now); err != nil {
		return nil, err
	}

	next, err := s.StartStage(ctx, leadID, current.FlowID, toStageKey, now)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// DetectBreaches transitions every overdue RUNNING instance to BREACHED.
// Safe to call repeatedly: only RUNNING rows are touched.
func (s *Service) DetectBreaches(ctx context.Context, workspaceID *uuid.UUID, now *time.Time) (int, error) {
	at := time.Now().UTC()
	if now != nil {
		at = *now
	}

	count, err := s.instances.MarkBreachedDue(ctx, workspaceID, at)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Info("stage breaches detected", "count", count)
	}
	return count, nil
}

// StopCurrentStageIfProofQualifies stops the lead's RUNNING stage when the
// proof type is in the stage definition's stop set; otherwise no-op.
func (s *Service) StopCurrentStageIfProofQualifies(ctx context.Context, leadID uuid.UUID, proofEventType string, proofEventID uuid.UUID) (*domain.StageInstance, error) {
	inst, err := s.instances.FindRunningByLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}

	def, err := s.config.StageDefinition(ctx, inst.FlowID, inst.StageKey)
	if err != nil {
		return nil, err
	}
	if def == nil {
		// A running instance without a definition means its flow config was
		// edited underneath it; proof stopping has nothing to match against.
		s.log.Warn("running stage has no definition", "leadId", leadID, "stage", inst.StageKey)
		return nil, nil
	}

	if !def.StopsOnProof(proofEventType) {
		return nil, nil
	}

	reason := domain.ProofReason(domain.CanonicalProofType(proofEventType))
	return s.StopStage(ctx, leadID, inst.FlowID, inst.StageKey, reason, &proofEventID, nil)
}
