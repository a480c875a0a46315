// Package leads provides the lead lifecycle bounded context module.
// This file defines the module that encapsulates all leads setup and route registration.
package leads

import (
	"leadflow_backend/internal/autopilot"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/handler"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/platform/ai"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	svc             *service.Service
	handler         *handler.Handler
	publicHandler   *handler.PublicHandler
	scenarioHandler *handler.ScenarioHandler
}

// NewModule creates and initializes the leads module with all its dependencies.
// The notifier source binds escalation notifications to each unit of work's
// transaction; the provider backs AI-mode autopilot scenarios.
func NewModule(pool *pgxpool.Pool, provider ai.Provider, notifiers service.NotifierSource, val *validator.Validator, log *logger.Logger) *Module {
	engine := autopilot.NewEngine(autopilot.NewPlanner(provider, log), log)
	runner := service.NewPgxRunner(pool, notifiers, log)
	svc := service.New(runner, engine, log)
	admin := autopilot.NewAdmin(autopilot.NewRepository(pool), log)

	return &Module{
		svc:             svc,
		handler:         handler.New(svc, val, log),
		publicHandler:   handler.NewPublicHandler(svc, val),
		scenarioHandler: handler.NewScenarioHandler(admin, val),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service returns the lead service for external callers (scheduler, messaging).
func (m *Module) Service() *service.Service {
	return m.svc
}

// RegisterRoutes mounts the leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.publicHandler.RegisterRoutes(ctx.Public)
	m.handler.RegisterRoutes(ctx.Protected.Group("/leads"))
	m.scenarioHandler.RegisterRoutes(ctx.Protected.Group("/scenarios"))
	ctx.Protected.POST("/sla/sweep", m.handler.Sweep)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
