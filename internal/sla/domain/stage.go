// Package domain holds the SLA stage vocabulary shared by the stage engine,
// the escalation detector, and the repositories.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// InstanceStatus is the lifecycle state of one stage instance.
type InstanceStatus string

const (
	StatusRunning  InstanceStatus = "RUNNING"
	StatusStopped  InstanceStatus = "STOPPED"
	StatusBreached InstanceStatus = "BREACHED"
)

// Well-known stage keys seeded into every flow.
const (
	StageFirstTouch    = "first_touch"
	StageQualification = "qualification"
	StageHandover      = "handover"
)

// Stop reasons recorded on stage instances.
const (
	ReasonDeadlineExceeded = "deadline_exceeded"
	reasonProofPrefix      = "proof:"
	reasonAdvancedPrefix   = "advanced_to_"
)

// ProofReason formats the stop reason for a proof-stopped stage.
func ProofReason(proofType string) string {
	return reasonProofPrefix + proofType
}

// AdvanceReason formats the stop reason when a stage is advanced past.
func AdvanceReason(toStageKey string) string {
	return reasonAdvancedPrefix + toStageKey
}

// StageDefinition is the per-flow template for one pipeline stage.
// Immutable to the engine; edited only through flow configuration.
type StageDefinition struct {
	FlowID               uuid.UUID
	Key                  string
	Name                 string
	TargetMinutes        int
	BusinessHoursEnabled bool
	StopOnProofTypes     []string
	Position             int
}

// StageInstance is one concrete timer run of a stage for one lead.
type StageInstance struct {
	ID           uuid.UUID
	WorkspaceID  uuid.UUID
	LeadID       uuid.UUID
	FlowID       uuid.UUID
	StageKey     string
	StartedAt    time.Time
	DueAt        time.Time
	Status       InstanceStatus
	StoppedAt    *time.Time
	BreachedAt   *time.Time
	StopReason   *string
	ProofEventID *uuid.UUID
}

// EscalationRule holds the per-stage escalation thresholds, each a percentage
// of the stage duration elapsed. A zero threshold disables that tier.
type EscalationRule struct {
	FlowID            uuid.UUID
	StageKey          string
	Enabled           bool
	RemindAtPct       float64
	ReassignAtPct     float64
	ManagerAlertAtPct float64
}

// Canonical proof types that satisfy a stage clock.
const (
	ProofMessageSent     = "message_sent"
	ProofReplyReceived   = "reply_received"
	ProofMeetingCreated  = "meeting_created"
	ProofCallLogged      = "call_logged"
	ProofManualNote      = "manual_proof_note"
)

// proofSynonyms maps channel-specific proof spellings onto canonical kinds.
var proofSynonyms = map[string]string{
	"whatsapp_sent":  ProofMessageSent,
	"meeting_booked": ProofMeetingCreated,
}

// CanonicalProofType folds synonym spellings onto the canonical proof kind.
func CanonicalProofType(proofType string) string {
	if canonical, ok := proofSynonyms[proofType]; ok {
		return canonical
	}
	return proofType
}

// StopsOnProof reports whether the given proof type ends this stage's clock.
func (d StageDefinition) StopsOnProof(proofType string) bool {
	canonical := CanonicalProofType(proofType)
	for _, allowed := range d.StopOnProofTypes {
		if CanonicalProofType(allowed) == canonical {
			return true
		}
	}
	return false
}
