// Package routing assigns and reassigns lead owners from a flow's
// eligible-agent list via round-robin with a persisted cursor.
package routing

import (
	"context"

	"github.com/google/uuid"

	leadsdomain "leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/workspaces"
	"leadflow_backend/platform/logger"
)

// Method tags describing how an owner was chosen.
const (
	MethodRoundRobin = "round_robin"
	MethodFallback   = "fallback"
	MethodNone       = "none"
	MethodUnchanged  = "unchanged"
)

// Decision is the outcome of one assignment/reassignment.
type Decision struct {
	OwnerUserID   *uuid.UUID
	PreviousOwner *uuid.UUID
	Method        string
	// Changed reports whether the lead's owner actually changed. Callers use
	// it to skip "reassigned" notifications when the owner stayed the same.
	Changed bool
}

// FlowReader loads flow routing config and persists the round-robin cursor.
type FlowReader interface {
	GetFlow(ctx context.Context, id uuid.UUID) (workspaces.Flow, error)
	UpdateRoutingCursor(ctx context.Context, flowID uuid.UUID, cursor int) error
}

// MembershipReader lists ACTIVE memberships for sanitization.
type MembershipReader interface {
	ListActiveMemberships(ctx context.Context, workspaceID uuid.UUID) ([]workspaces.Membership, error)
}

// LeadOwnerStore reads and writes a lead's owner.
type LeadOwnerStore interface {
	GetOwner(ctx context.Context, leadID uuid.UUID) (*uuid.UUID, error)
	SetOwner(ctx context.Context, leadID uuid.UUID, ownerUserID uuid.UUID) error
}

// EventWriter appends audit events to the lead event log.
type EventWriter interface {
	AppendEvent(ctx context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) error
}

// Engine is the routing engine.
type Engine struct {
	flows   FlowReader
	members MembershipReader
	owners  LeadOwnerStore
	events  EventWriter
	log     *logger.Logger
}

// New creates a routing engine.
func New(flows FlowReader, members MembershipReader, owners LeadOwnerStore, events EventWriter, log *logger.Logger) *Engine {
	return &Engine{flows: flows, members: members, owners: owners, events: events, log: log}
}

// AssignLeadFromFlowRouting performs the first assignment of a lead from its
// flow's routing config and emits an "assigned" event when an owner is chosen.
func (e *Engine) AssignLeadFromFlowRouting(ctx context.Context, leadID, flowID uuid.UUID) (Decision, error) {
	flow, err := e.flows.GetFlow(ctx, flowID)
	if err != nil {
		return Decision{}, err
	}

	members, err := e.members.ListActiveMemberships(ctx, flow.WorkspaceID)
	if err != nil {
		return Decision{}, err
	}

	eligible := sanitizeAgents(flow.EligibleAgents, members)
	fallback := sanitizeFallback(flow.FallbackOwnerUserID, members)

	owner, newCursor := pickRoundRobin(eligible, flow.RoundRobinCursor, nil)
	method := MethodRoundRobin
	if owner == nil {
		owner = fallback
		method = MethodFallback
	}
	if owner == nil {
		method = MethodNone
	}

	if newCursor != flow.RoundRobinCursor {
		if err := e.flows.UpdateRoutingCursor(ctx, flowID, newCursor); err != nil {
			return Decision{}, err
		}
	}

	if owner == nil {
		return Decision{Method: MethodNone}, nil
	}

	if err := e.owners.SetOwner(ctx, leadID, *owner); err != nil {
		return Decision{}, err
	}
	if err := e.events.AppendEvent(ctx, flow.WorkspaceID, leadID, leadsdomain.EventAssigned, map[string]any{
		"ownerUserId": owner.String(),
		"method":      method,
	}); err != nil {
		return Decision{}, err
	}

	e.log.Info("lead assigned", "leadId", leadID, "ownerUserId", *owner, "method", method)
	return Decision{OwnerUserID: owner, Method: method, Changed: true}, nil
}

// ReassignLeadFromFlowRouting selects a new owner, skipping the current owner
// when another candidate exists. When only the current owner is eligible the
// lead is reassigned to the same user (only candidate) with Changed=false.
func (e *Engine) ReassignLeadFromFlowRouting(ctx context.Context, leadID, flowID uuid.UUID) (Decision, error) {
	flow, err := e.flows.GetFlow(ctx, flowID)
	if err != nil {
		return Decision{}, err
	}

	current, err := e.owners.GetOwner(ctx, leadID)
	if err != nil {
		return Decision{}, err
	}

	members, err := e.members.ListActiveMemberships(ctx, flow.WorkspaceID)
	if err != nil {
		return Decision{}, err
	}

	eligible := sanitizeAgents(flow.EligibleAgents, members)
	fallback := sanitizeFallback(flow.FallbackOwnerUserID, members)

	owner, newCursor := pickRoundRobin(eligible, flow.RoundRobinCursor, current)
	method := MethodRoundRobin
	if owner == nil {
		owner = fallback
		method = MethodFallback
	}
	if owner == nil {
		// Neither round-robin nor fallback apply; the owner stays as-is.
		return Decision{OwnerUserID: current, PreviousOwner: current, Method: MethodUnchanged}, nil
	}

	if newCursor != flow.RoundRobinCursor {
		if err := e.flows.UpdateRoutingCursor(ctx, flowID, newCursor); err != nil {
			return Decision{}, err
		}
	}

	changed := current == nil || *current != *owner
	if changed {
		if err := e.owners.SetOwner(ctx, leadID, *owner); err != nil {
			return Decision{}, err
		}
	}

	e.log.Info("lead reassignment decided",
		"leadId", leadID, "ownerUserId", *owner, "method", method, "changed", changed)
	return Decision{OwnerUserID: owner, PreviousOwner: current, Method: method, Changed: changed}, nil
}
