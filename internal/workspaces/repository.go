package workspaces

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/db"
)

// Repository reads and writes workspace configuration.
type Repository struct {
	q db.Querier
}

// New creates a repository bound to a pool or transaction.
func New(q db.Querier) *Repository {
	return &Repository{q: q}
}

// WithQuerier returns a repository bound to a different querier (e.g. a tx).
func (r *Repository) WithQuerier(q db.Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) GetWorkspace(ctx context.Context, id uuid.UUID) (Workspace, error) {
	var ws Workspace
	err := r.q.QueryRow(ctx, `
		SELECT id, name, timezone, business_hours, created_at
		FROM workspaces
		WHERE id = $1
	`, id).Scan(&ws.ID, &ws.Name, &ws.Timezone, &ws.BusinessHours, &ws.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Workspace{}, apperr.NotFound("workspace not found")
	}
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (r *Repository) CreateWorkspace(ctx context.Context, name, timezone string, businessHours []byte) (Workspace, error) {
	var ws Workspace
	err := r.q.QueryRow(ctx, `
		INSERT INTO workspaces (name, timezone, business_hours)
		VALUES ($1, $2, $3)
		RETURNING id, name, timezone, business_hours, created_at
	`, name, timezone, businessHours).Scan(&ws.ID, &ws.Name, &ws.Timezone, &ws.BusinessHours, &ws.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// ListActiveMemberships returns ACTIVE memberships for a workspace.
func (r *Repository) ListActiveMemberships(ctx context.Context, workspaceID uuid.UUID) ([]Membership, error) {
	rows, err := r.q.Query(ctx, `
		SELECT workspace_id, user_id, role, status, is_available
		FROM memberships
		WHERE workspace_id = $1 AND status = $2
		ORDER BY user_id
	`, workspaceID, MembershipStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.Status, &m.IsAvailable); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *Repository) UpsertMembership(ctx context.Context, m Membership) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO memberships (workspace_id, user_id, role, status, is_available)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, user_id)
		DO UPDATE SET role = $3, status = $4, is_available = $5
	`, m.WorkspaceID, m.UserID, m.Role, m.Status, m.IsAvailable)
	return err
}

func (r *Repository) GetFlow(ctx context.Context, id uuid.UUID) (Flow, error) {
	var f Flow
	err := r.q.QueryRow(ctx, `
		SELECT id, workspace_id, name, eligible_agents, fallback_owner_user_id, round_robin_cursor, created_at
		FROM flows
		WHERE id = $1
	`, id).Scan(&f.ID, &f.WorkspaceID, &f.Name, &f.EligibleAgents, &f.FallbackOwnerUserID, &f.RoundRobinCursor, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Flow{}, apperr.NotFound("flow not found")
	}
	if err != nil {
		return Flow{}, err
	}
	return f, nil
}

// GetDefaultFlow returns the earliest-created flow of a workspace.
func (r *Repository) GetDefaultFlow(ctx context.Context, workspaceID uuid.UUID) (Flow, error) {
	var f Flow
	err := r.q.QueryRow(ctx, `
		SELECT id, workspace_id, name, eligible_agents, fallback_owner_user_id, round_robin_cursor, created_at
		FROM flows
		WHERE workspace_id = $1
		ORDER BY created_at
		LIMIT 1
	`, workspaceID).Scan(&f.ID, &f.WorkspaceID, &f.Name, &f.EligibleAgents, &f.FallbackOwnerUserID, &f.RoundRobinCursor, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Flow{}, apperr.NotFound("workspace has no flows")
	}
	if err != nil {
		return Flow{}, err
	}
	return f, nil
}

func (r *Repository) CreateFlow(ctx context.Context, f Flow) (Flow, error) {
	err := r.q.QueryRow(ctx, `
		INSERT INTO flows (workspace_id, name, eligible_agents, fallback_owner_user_id, round_robin_cursor)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, f.WorkspaceID, f.Name, f.EligibleAgents, f.FallbackOwnerUserID, f.RoundRobinCursor).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return Flow{}, err
	}
	return f, nil
}

// UpdateRoutingCursor persists the round-robin cursor for a flow.
func (r *Repository) UpdateRoutingCursor(ctx context.Context, flowID uuid.UUID, cursor int) error {
	_, err := r.q.Exec(ctx, `
		UPDATE flows SET round_robin_cursor = $2 WHERE id = $1
	`, flowID, cursor)
	return err
}
