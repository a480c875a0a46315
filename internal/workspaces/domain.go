// Package workspaces provides tenant configuration read by the core engines:
// workspaces, memberships, flows, and business-hours schedules.
package workspaces

import (
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/bizhours"
)

// Membership roles eligible for lead routing.
const (
	RoleOwner   = "OWNER"
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleAgent   = "AGENT"
)

// MembershipStatusActive is the only status considered for routing and alerts.
const MembershipStatusActive = "ACTIVE"

// Workspace is one tenant.
type Workspace struct {
	ID            uuid.UUID
	Name          string
	Timezone      string
	BusinessHours []byte // stored schedule blob, parsed via bizhours.ParseConfig
	CreatedAt     time.Time
}

// BusinessHoursConfig resolves the workspace's stored schedule with defaults.
func (w Workspace) BusinessHoursConfig() bizhours.Config {
	return bizhours.ParseConfig(w.BusinessHours, w.Timezone)
}

// Membership links a user to a workspace with a role and availability flag.
type Membership struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	UserID      uuid.UUID `json:"userId"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	IsAvailable bool      `json:"isAvailable"`
}

// Routable reports whether this membership may receive leads.
func (m Membership) Routable() bool {
	if m.Status != MembershipStatusActive || !m.IsAvailable {
		return false
	}
	switch m.Role {
	case RoleAgent, RoleManager, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// Flow is one lead-handling pipeline with embedded routing configuration.
type Flow struct {
	ID                  uuid.UUID
	WorkspaceID         uuid.UUID
	Name                string
	EligibleAgents      []uuid.UUID
	FallbackOwnerUserID *uuid.UUID
	RoundRobinCursor    int
	CreatedAt           time.Time
}
