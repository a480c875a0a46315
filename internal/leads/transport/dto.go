// Package transport defines the request and response shapes of the leads API.
package transport

import (
	"github.com/google/uuid"
)

// IngestRequest is the public lead-capture payload.
type IngestRequest struct {
	WorkspaceID string `json:"workspaceId" validate:"required,uuid"`
	FlowID      string `json:"flowId" validate:"omitempty,uuid"`
	FirstName   string `json:"firstName" validate:"required,max=120"`
	LastName    string `json:"lastName" validate:"max=120"`
	Phone       string `json:"phone" validate:"max=32"`
	Email       string `json:"email" validate:"omitempty,email"`
	Source      string `json:"source" validate:"max=64"`
}

// ReplyRequest carries one inbound message from the lead.
type ReplyRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// ProofRequest records proof-of-contact on a lead.
type ProofRequest struct {
	ProofType string         `json:"proofType" validate:"required,max=64"`
	Payload   map[string]any `json:"payload"`
}

// ScenarioRequest carries the editable autopilot scenario fields.
type ScenarioRequest struct {
	Name               string  `json:"name" validate:"required,max=160"`
	Mode               string  `json:"mode" validate:"required,oneof=RULES AI"`
	MaxQuestions       int     `json:"maxQuestions" validate:"required,min=1,max=10"`
	SLAMinutes         int     `json:"slaMinutes" validate:"required,min=1"`
	AIPrompt           string  `json:"aiPrompt"`
	AgentName          string  `json:"agentName" validate:"max=120"`
	CompanyName        string  `json:"companyName" validate:"max=160"`
	CompanyDescription string  `json:"companyDescription" validate:"max=2000"`
	OfferSummary       string  `json:"offerSummary" validate:"max=2000"`
	CalendarLinkRaw    string  `json:"calendarLinkRaw" validate:"max=512"`
	HandoverUserID     *string `json:"handoverUserId" validate:"omitempty,uuid"`
	IsDefault          bool    `json:"isDefault"`
}

// ParseOptionalUUID parses a pointer-to-string UUID field, returning nil for
// absent or empty values.
func ParseOptionalUUID(value *string) (*uuid.UUID, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(*value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
