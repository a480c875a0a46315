package workspaces

import (
	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module wires tenant administration into the HTTP layer.
type Module struct {
	svc     *Service
	handler *Handler
}

func NewModule(pool *pgxpool.Pool, val *validator.Validator, log *logger.Logger) *Module {
	svc := NewService(pool, log)
	return &Module{
		svc:     svc,
		handler: NewHandler(svc, val),
	}
}

func (m *Module) Name() string { return "workspaces" }

func (m *Module) Service() *Service { return m.svc }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/workspaces"))
}

var _ apphttp.Module = (*Module)(nil)
