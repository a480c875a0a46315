package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow_backend/internal/email"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/router"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/workspaces"
	"leadflow_backend/migrations"
	"leadflow_backend/platform/ai"
	"leadflow_backend/platform/ai/gemini"
	"leadflow_backend/platform/ai/openaicompat"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	val := validator.New()
	sender := email.NewSender(cfg)
	provider := newAIProvider(ctx, cfg, log)

	notificationModule := notification.NewModule(pool, sender, cfg.GetEmailAlertsAddress(), log)
	workspacesModule := workspaces.NewModule(pool, val, log)
	leadsModule := leads.NewModule(pool, provider, notificationModule.Service(), val, log)

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: pool,
		Modules: []apphttp.Module{
			workspacesModule,
			leadsModule,
			notificationModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// newAIProvider picks the chat-completion backend from config. A disabled or
// misconfigured backend degrades to the deterministic rules engine rather
// than blocking startup.
func newAIProvider(ctx context.Context, cfg *config.Config, log *logger.Logger) ai.Provider {
	if !cfg.IsAIEnabled() {
		log.Info("ai provider disabled, autopilot uses rules fallback")
		return ai.Disabled()
	}

	switch cfg.GetAIProvider() {
	case "gemini":
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:  cfg.GetAIAPIKey(),
			Model:   cfg.GetAIModel(),
			Timeout: cfg.GetAITimeout(),
		})
		if err != nil {
			log.Error("gemini client init failed, autopilot uses rules fallback", "error", err)
			return ai.Disabled()
		}
		log.Info("ai provider initialized", "provider", "gemini", "model", cfg.GetAIModel())
		return client
	default:
		client := openaicompat.NewClient(openaicompat.Config{
			APIKey:  cfg.GetAIAPIKey(),
			BaseURL: cfg.GetAIBaseURL(),
			Model:   cfg.GetAIModel(),
			Timeout: cfg.GetAITimeout(),
		})
		log.Info("ai provider initialized", "provider", cfg.GetAIProvider(), "model", cfg.GetAIModel())
		return client
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
