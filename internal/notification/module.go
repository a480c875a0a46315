package notification

import (
	"leadflow_backend/internal/email"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the notification bounded context module implementing http.Module.
type Module struct {
	svc     *Service
	handler *Handler
}

// NewModule wires the notification repository, service, and handler. A nil
// sender disables the email channel.
func NewModule(pool *pgxpool.Pool, sender *email.Sender, alertsTo string, log *logger.Logger) *Module {
	svc := NewService(NewRepository(pool), sender, alertsTo, log)
	return &Module{svc: svc, handler: NewHandler(svc)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// Service returns the notification service for cross-module wiring (the
// escalation detector's Notifier port).
func (m *Module) Service() *Service {
	return m.svc
}

// RegisterRoutes mounts the notification routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/notifications"))
}

var _ apphttp.Module = (*Module)(nil)
