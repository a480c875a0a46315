// Package domain holds the lead aggregate and the event-log vocabulary shared
// across the stage engine, escalation detector, and autopilot.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lead is one prospect inside a workspace, attached to a flow.
type Lead struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	FlowID      uuid.UUID
	OwnerUserID *uuid.UUID
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	Source      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FullName joins the lead's name parts for display.
func (l Lead) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(l.FirstName) + " " + strings.TrimSpace(l.LastName))
}

// Event is one append-only audit record for a lead. The event log doubles as
// the idempotency marker store for escalation tiers.
type Event struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	LeadID      uuid.UUID
	EventType   string
	Payload     map[string]any
	OccurredAt  time.Time
}

// Event types recorded on the lead event log.
// Proof events are logged under their canonical proof type (for example
// "message_sent"), which is what the escalation detector checks for.
const (
	EventLeadCreated       = "lead_created"
	EventAssigned          = "assigned"
	EventReassigned        = "reassigned"
	EventReminderSent      = "reminder_sent"
	EventManagerAlert      = "manager_alert"
	EventStageBreached     = "stage_breached"
	EventAutopilotInbound  = "autopilot_inbound"
	EventAutopilotPlanned  = "autopilot_ai_planned"
	EventAutopilotHandover = "autopilot_handover"
	EventMessageQueued     = "message_queued"
	EventMessageBlocked    = "message_blocked"
	EventMessageFailed     = "message_failed"
)

// OutboundStatus is the delivery state of a queued message.
type OutboundStatus string

const (
	MessageQueued OutboundStatus = "QUEUED"
	MessageSent   OutboundStatus = "SENT"
	MessageFailed OutboundStatus = "FAILED"
)

// OutboundMessage is one message queued for delivery to a lead.
type OutboundMessage struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	LeadID      uuid.UUID
	ToPhone     string
	Body        string
	Status      OutboundStatus
	Error       *string
	QueuedAt    time.Time
	SentAt      *time.Time
}
