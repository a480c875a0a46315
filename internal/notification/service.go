package notification

import (
	"context"

	"github.com/google/uuid"

	"leadflow_backend/internal/email"
	"leadflow_backend/internal/sla/escalation"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
)

// Service delivers notifications. It implements the escalation detector's
// Notifier port: every notification lands in-app, and manager alerts are
// additionally mailed to the operations mailbox when email is configured.
type Service struct {
	repo     *Repository
	sender   *email.Sender
	alertsTo string
	log      *logger.Logger
}

func NewService(repo *Repository, sender *email.Sender, alertsTo string, log *logger.Logger) *Service {
	return &Service{repo: repo, sender: sender, alertsTo: alertsTo, log: log}
}

var _ escalation.Notifier = (*Service)(nil)

// Notifier returns a copy of the service writing through q. Escalation sweeps
// pass their transaction here so the in-app row and the tier's event marker
// commit or roll back together.
func (s *Service) Notifier(q db.Querier) escalation.Notifier {
	return &Service{repo: NewRepository(q), sender: s.sender, alertsTo: s.alertsTo, log: s.log}
}

// Notify stores an in-app notification. Email delivery failures are logged,
// never propagated: a broken SMTP server must not fail an escalation sweep.
func (s *Service) Notify(ctx context.Context, workspaceID, userID uuid.UUID, notifType, title, body string) error {
	if _, err := s.repo.Create(ctx, Notification{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Type:        notifType,
		Title:       title,
		Body:        body,
	}); err != nil {
		return err
	}

	if notifType == escalation.NotifyManagerAlert && s.sender != nil && s.alertsTo != "" {
		if err := s.sender.SendManagerAlert(ctx, s.alertsTo, title, body); err != nil {
			s.log.Warn("manager alert email failed", "workspaceId", workspaceID, "error", err)
		}
	}
	return nil
}

func (s *Service) List(ctx context.Context, workspaceID, userID uuid.UUID, limit int) ([]Notification, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, workspaceID, userID, limit)
}

func (s *Service) CountUnread(ctx context.Context, workspaceID, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, workspaceID, userID)
}

func (s *Service) MarkRead(ctx context.Context, workspaceID, userID, id uuid.UUID) error {
	return s.repo.MarkRead(ctx, workspaceID, userID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, workspaceID, userID uuid.UUID) error {
	return s.repo.MarkAllRead(ctx, workspaceID, userID)
}
