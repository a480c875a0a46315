// Package notification stores and serves in-app notifications and fans
// escalation alerts out to the email channel.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/platform/db"
)

// Notification is one in-app notification addressed to a user.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspaceId"`
	UserID      uuid.UUID `json:"userId"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Repository persists in-app notifications.
type Repository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) Create(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO notifications (id, workspace_id, user_id, type, title, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, n.ID, n.WorkspaceID, n.UserID, n.Type, n.Title, n.Body).Scan(&n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// List returns a user's newest notifications within a workspace.
func (r *Repository) List(ctx context.Context, workspaceID, userID uuid.UUID, limit int) ([]Notification, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, workspace_id, user_id, type, title, body, is_read, created_at
		FROM notifications
		WHERE workspace_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, workspaceID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.WorkspaceID, &n.UserID, &n.Type, &n.Title,
			&n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *Repository) CountUnread(ctx context.Context, workspaceID, userID uuid.UUID) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM notifications
		WHERE workspace_id = $1 AND user_id = $2 AND is_read = FALSE
	`, workspaceID, userID).Scan(&count)
	return count, err
}

func (r *Repository) MarkRead(ctx context.Context, workspaceID, userID, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE workspace_id = $1 AND user_id = $2 AND id = $3
	`, workspaceID, userID, id)
	return err
}

func (r *Repository) MarkAllRead(ctx context.Context, workspaceID, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE workspace_id = $1 AND user_id = $2 AND is_read = FALSE
	`, workspaceID, userID)
	return err
}
