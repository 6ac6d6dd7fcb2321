package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gatehouse-hq/gatehouse/common/id"
	"github.com/gatehouse-hq/gatehouse/common/logger"
	"github.com/gatehouse-hq/gatehouse/common/otel"
	"github.com/gatehouse-hq/gatehouse/core/config"
	"github.com/gatehouse-hq/gatehouse/core/db"
	"github.com/gatehouse-hq/gatehouse/internal/agent"
	"github.com/gatehouse-hq/gatehouse/internal/governor"
	"github.com/gatehouse-hq/gatehouse/internal/http/middleware"
	httprouter "github.com/gatehouse-hq/gatehouse/internal/http/router"
	"github.com/gatehouse-hq/gatehouse/internal/platform"
	eventrouter "github.com/gatehouse-hq/gatehouse/internal/router"
	"github.com/gatehouse-hq/gatehouse/internal/service"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "gatehouse starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, db.Config(cfg.DB))
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to migrate database", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	ledger := store.New(database, cfg.Governance.TargetHourlyCost)
	gov := governor.New(ledger, cfg.Governance)

	runner, err := buildRunner(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build agent runner", "error", err)
		os.Exit(1)
	}

	processor := service.NewProcessor(eventrouter.New(ledger, runner), gov)

	cleaner := service.NewCleaner(ledger, cfg.Governance.Retention, cfg.Governance.CleanupInterval)
	go func() {
		if err := cleaner.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "retention cleaner stopped", "error", err)
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := setupEngine(cfg, processor, gov, ledger)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cleaner.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// buildRunner assembles the agent runner with its hooks. Without an API key
// the server still accepts and journals events using a no-op runner, which
// keeps local development working without LLM credentials.
func buildRunner(cfg config.Config) (agent.Runner, error) {
	if !cfg.Agent.Enabled() {
		slog.Info("agent disabled (no API key), runs are no-ops")
		return agent.NewNopRunner(), nil
	}

	hooks := []agent.Hook{agent.NewStatsHook(cfg.Governance.TargetHourlyCost)}
	if cfg.GitHub.Enabled() {
		client, err := platform.New(cfg.GitHub)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, agent.NewCommentHook(client))
	}

	return agent.NewLLMRunner(agent.Config{
		APIKey:    cfg.Agent.APIKey,
		BaseURL:   cfg.Agent.BaseURL,
		Model:     cfg.Agent.Model,
		MaxTokens: cfg.Agent.MaxTokens,
	}, agent.DefaultCostEstimator, hooks...)
}

func setupEngine(cfg config.Config, processor *service.Processor, gov *governor.Governor, ledger store.Store) *gin.Engine {
	engine := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		engine.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	httprouter.SetupRoutes(engine, httprouter.Deps{
		Processor:     processor,
		Governor:      gov,
		Store:         ledger,
		WebhookSecret: cfg.Webhook.Secret,
	})

	return engine
}

const banner = `
 ██████╗  █████╗ ████████╗███████╗██╗  ██╗ ██████╗ ██╗   ██╗███████╗███████╗
██╔════╝ ██╔══██╗╚══██╔══╝██╔════╝██║  ██║██╔═══██╗██║   ██║██╔════╝██╔════╝
██║  ███╗███████║   ██║   █████╗  ███████║██║   ██║██║   ██║███████╗█████╗
██║   ██║██╔══██║   ██║   ██╔══╝  ██╔══██║██║   ██║██║   ██║╚════██║██╔══╝
╚██████╔╝██║  ██║   ██║   ███████╗██║  ██║╚██████╔╝╚██████╔╝███████║███████╗
 ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝╚═╝  ╚═╝ ╚═════╝  ╚═════╝ ╚══════╝╚══════╝
`
