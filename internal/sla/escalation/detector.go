// Package escalation sweeps running stage instances and applies the
// per-stage reminder/reassignment/manager-alert thresholds.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	leadsdomain "leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/routing"
	"leadflow_backend/internal/sla/domain"
	"leadflow_backend/internal/sla/repository"
	"leadflow_backend/internal/workspaces"
	"leadflow_backend/platform/logger"
)

// Notification types emitted by the detector.
const (
	NotifyReminder     = "sla_reminder"
	NotifyReassigned   = "sla_reassigned"
	NotifyManagerAlert = "sla_manager_alert"
)

// proofActionTypes are event types proving the agent already acted on the
// lead; their presence since stage start suppresses reassignment.
var proofActionTypes = []string{
	domain.ProofMessageSent,
	domain.ProofReplyReceived,
	domain.ProofMeetingCreated,
	domain.ProofCallLogged,
	domain.ProofManualNote,
}

// EventLog provides the idempotency markers and audit writes for the sweep.
type EventLog interface {
	ExistsSince(ctx context.Context, leadID uuid.UUID, eventType string, since time.Time) (bool, error)
	AnyExistsSince(ctx context.Context, leadID uuid.UUID, eventTypes []string, since time.Time) (bool, error)
	AppendEvent(ctx context.Context, workspaceID, leadID uuid.UUID, eventType string, payload map[string]any) error
}

// Reassigner is the routing-engine operation the detector invokes.
type Reassigner interface {
	ReassignLeadFromFlowRouting(ctx context.Context, leadID, flowID uuid.UUID) (routing.Decision, error)
}

// OwnerReader resolves the current owner for reminder notifications.
type OwnerReader interface {
	GetOwner(ctx context.Context, leadID uuid.UUID) (*uuid.UUID, error)
}

// MembershipReader lists ACTIVE memberships for manager fan-out.
type MembershipReader interface {
	ListActiveMemberships(ctx context.Context, workspaceID uuid.UUID) ([]workspaces.Membership, error)
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, workspaceID, userID uuid.UUID, notifType, title, body string) error
}

// Stats summarizes one sweep.
type Stats struct {
	Scanned       int
	Reminders     int
	Reassignments int
	ManagerAlerts int
}

// Detector runs the escalation sweep.
type Detector struct {
	instances  repository.StageInstanceStore
	config     repository.FlowConfigReader
	events     EventLog
	reassigner Reassigner
	owners     OwnerReader
	members    MembershipReader
	notifier   Notifier
	log        *logger.Logger
}

// New creates a detector.
func New(
	instances repository.StageInstanceStore,
	config repository.FlowConfigReader,
	events EventLog,
	reassigner Reassigner,
	owners OwnerReader,
	members MembershipReader,
	notifier Notifier,
	log *logger.Logger,
) *Detector {
	return &Detector{
		instances:  instances,
		config:     config,
		events:     events,
		reassigner: reassigner,
		owners:     owners,
		members:    members,
		notifier:   notifier,
		log:        log,
	}
}

// Sweep evaluates every RUNNING stage instance, optionally scoped to one
// workspace. Each tier is gated by event existence since the stage started,
// so repeated and concurrent sweeps stay safe. A single sweep may trigger
// multiple tiers when time has jumped.
func (d *Detector) Sweep(ctx context.Context, workspaceID *uuid.UUID, now *time.Time) (Stats, error) {
	at := time.Now().UTC()
	if now != nil {
		at = *now
	}

	running, err := d.instances.ListRunning(ctx, workspaceID)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, inst := range running {
		stats.Scanned++
		if err := d.sweepInstance(ctx, inst, at, &stats); err != nil {
			// One broken instance must not stall the rest of the sweep.
			// A failed tier leaves no marker and fires again next pass.
			d.log.Error("escalation sweep failed for instance",
				"instanceId", inst.ID, "leadId", inst.LeadID, "error", err)
		}
	}
	return stats, nil
}

func (d *Detector) sweepInstance(ctx context.Context, inst domain.StageInstance, now time.Time, stats *Stats) error {
	rule, err := d.config.EscalationRule(ctx, inst.FlowID, inst.StageKey)
	if err != nil {
		return err
	}
	if rule == nil || !rule.Enabled {
		return nil
	}

	elapsedPct := elapsedPercent(inst, now)

	if rule.RemindAtPct > 0 && elapsedPct >= rule.RemindAtPct {
		triggered, err := d.remind(ctx, inst, elapsedPct)
		if err != nil {
			return err
		}
		if triggered {
			stats.Reminders++
		}
	}

	if rule.ReassignAtPct > 0 && elapsedPct >= rule.ReassignAtPct {
		triggered, err := d.reassign(ctx, inst, elapsedPct)
		if err != nil {
			return err
		}
		if triggered {
			stats.Reassignments++
		}
	}

	if rule.ManagerAlertAtPct > 0 && elapsedPct >= rule.ManagerAlertAtPct {
		triggered, err := d.managerAlert(ctx, inst, elapsedPct)
		if err != nil {
			return err
		}
		if triggered {
			stats.ManagerAlerts++
		}
	}

	return nil
}

// elapsedPercent computes elapsed time as a percentage of the stage budget,
// clamped below at 0 with a 1ms minimum total to avoid division by zero.
func elapsedPercent(inst domain.StageInstance, now time.Time) float64 {
	totalMs := inst.DueAt.Sub(inst.StartedAt).Milliseconds()
	if totalMs < 1 {
		totalMs = 1
	}
	elapsedMs := now.Sub(inst.StartedAt).Milliseconds()
	pct := float64(elapsedMs) / float64(totalMs) * 100
	if pct < 0 {
		return 0
	}
	return pct
}

func (d *Detector) remind(ctx context.Context, inst domain.StageInstance, pct float64) (bool, error) {
	already, err := d.events.ExistsSince(ctx, inst.LeadID, leadsdomain.EventReminderSent, inst.StartedAt)
	if err != nil || already {
		return false, err
	}

	owner, err := d.owners.GetOwner(ctx, inst.LeadID)
	if err != nil {
		return false, err
	}
	if owner != nil {
		if err := d.notifier.Notify(ctx, inst.WorkspaceID, *owner, NotifyReminder,
			"SLA reminder",
			fmt.Sprintf("Stage %q is at %.0f%% of its response budget.", inst.StageKey, pct)); err != nil {
			return false, err
		}
	}

	// Marker last: a failed delivery leaves no marker, so the tier retries.
	if err := d.events.AppendEvent(ctx, inst.WorkspaceID, inst.LeadID, leadsdomain.EventReminderSent, map[string]any{
		"stageKey":   inst.StageKey,
		"elapsedPct": pct,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Detector) reassign(ctx context.Context, inst domain.StageInstance, pct float64) (bool, error) {
	already, err := d.events.ExistsSince(ctx, inst.LeadID, leadsdomain.EventReassigned, inst.StartedAt)
	if err != nil || already {
		return false, err
	}

	// An agent who already acted keeps the lead.
	acted, err := d.events.AnyExistsSince(ctx, inst.LeadID, proofActionTypes, inst.StartedAt)
	if err != nil || acted {
		return false, err
	}

	decision, err := d.reassigner.ReassignLeadFromFlowRouting(ctx, inst.LeadID, inst.FlowID)
	if err != nil {
		return false, err
	}

	payload := map[string]any{
		"stageKey":   inst.StageKey,
		"elapsedPct": pct,
		"method":     decision.Method,
		"changed":    decision.Changed,
	}
	if decision.PreviousOwner != nil {
		payload["fromUserId"] = decision.PreviousOwner.String()
	}
	if decision.OwnerUserID != nil {
		payload["toUserId"] = decision.OwnerUserID.String()
	}

	if decision.Changed && decision.OwnerUserID != nil {
		if err := d.notifier.Notify(ctx, inst.WorkspaceID, *decision.OwnerUserID, NotifyReassigned,
			"Lead reassigned to you",
			fmt.Sprintf("Stage %q exceeded %.0f%% of its budget without action.", inst.StageKey, pct)); err != nil {
			return false, err
		}
		if decision.PreviousOwner != nil && *decision.PreviousOwner != *decision.OwnerUserID {
			if err := d.notifier.Notify(ctx, inst.WorkspaceID, *decision.PreviousOwner, NotifyReassigned,
				"Lead reassigned away",
				fmt.Sprintf("A lead was reassigned after stage %q stalled.", inst.StageKey)); err != nil {
				return false, err
			}
		}
	}

	if err := d.events.AppendEvent(ctx, inst.WorkspaceID, inst.LeadID, leadsdomain.EventReassigned, payload); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Detector) managerAlert(ctx context.Context, inst domain.StageInstance, pct float64) (bool, error) {
	already, err := d.events.ExistsSince(ctx, inst.LeadID, leadsdomain.EventManagerAlert, inst.StartedAt)
	if err != nil || already {
		return false, err
	}

	members, err := d.members.ListActiveMemberships(ctx, inst.WorkspaceID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.Role != workspaces.RoleManager {
			continue
		}
		if err := d.notifier.Notify(ctx, inst.WorkspaceID, m.UserID, NotifyManagerAlert,
			"SLA escalation",
			fmt.Sprintf("Stage %q reached %.0f%% of its budget.", inst.StageKey, pct)); err != nil {
			return false, err
		}
	}

	if err := d.events.AppendEvent(ctx, inst.WorkspaceID, inst.LeadID, leadsdomain.EventManagerAlert, map[string]any{
		"stageKey":   inst.StageKey,
		"elapsedPct": pct,
	}); err != nil {
		return false, err
	}
	return true, nil
}
