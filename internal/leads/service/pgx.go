package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/autopilot"
	leadsrepo "leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/routing"
	"leadflow_backend/internal/sla/escalation"
	slarepo "leadflow_backend/internal/sla/repository"
	slaservice "leadflow_backend/internal/sla/service"
	"leadflow_backend/internal/workspaces"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
)

// NotifierSource builds escalation notifiers bound to a unit of work's
// querier, so notification writes commit and roll back with the sweep.
type NotifierSource interface {
	Notifier(q db.Querier) escalation.Notifier
}

// PgxRunner builds transaction-scoped repositories and engines over one
// pgx transaction per unit of work.
type PgxRunner struct {
	pool      *pgxpool.Pool
	notifiers NotifierSource
	log       *logger.Logger
}

func NewPgxRunner(pool *pgxpool.Pool, notifiers NotifierSource, log *logger.Logger) *PgxRunner {
	return &PgxRunner{pool: pool, notifiers: notifiers, log: log}
}

func (p *PgxRunner) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return db.InTx(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(ctx, p.repos(tx))
	})
}

func (p *PgxRunner) repos(q db.Querier) Repos {
	leads := leadsrepo.New(q)
	runs := autopilot.NewRepository(q)
	ws := workspaces.New(q)
	sla := slarepo.New(q)

	slaEngine := slaservice.New(sla, sla, p.log)
	routingEngine := routing.New(ws, ws, leads, leads, p.log)
	detector := escalation.New(sla, sla, leads, routingEngine, leads, ws, p.notifiers.Notifier(q), p.log)

	return Repos{
		Leads:        leads,
		Runs:         runs,
		Workspaces:   ws,
		SLAInstances: sla,
		SLA:          slaEngine,
		Routing:      routingEngine,
		Resolver:     autopilot.NewResolver(runs, p.log),
		Escalation:   detector,
	}
}
