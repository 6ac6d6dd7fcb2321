package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/gatehouse-hq/gatehouse/common/id"
	"github.com/gatehouse-hq/gatehouse/common/logger"
	"github.com/gatehouse-hq/gatehouse/core/config"
	"github.com/gatehouse-hq/gatehouse/core/db"
	"github.com/gatehouse-hq/gatehouse/internal/agent"
	"github.com/gatehouse-hq/gatehouse/internal/event"
	"github.com/gatehouse-hq/gatehouse/internal/governor"
	"github.com/gatehouse-hq/gatehouse/internal/platform"
	eventrouter "github.com/gatehouse-hq/gatehouse/internal/router"
	"github.com/gatehouse-hq/gatehouse/internal/service"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

// The action entrypoint processes exactly one event and exits. It is meant
// to run inside a CI job where the event payload arrives as a file on disk
// and the event name as an environment variable or flag, so there is no
// webhook signature to verify.
func main() {
	var (
		eventPath = pflag.String("event-path", os.Getenv("GITHUB_EVENT_PATH"), "path to the event payload JSON (reads stdin when \"-\")")
		eventName = pflag.String("event-name", os.Getenv("GITHUB_EVENT_NAME"), "event type when the payload omits event_name")
	)
	pflag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeAction)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Setup(cfg)

	if err := run(ctx, cfg, *eventPath, *eventName); err != nil {
		slog.ErrorContext(ctx, "action failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, eventPath, eventName string) error {
	if eventPath == "" {
		return fmt.Errorf("event path is required (--event-path or GITHUB_EVENT_PATH)")
	}

	raw, err := readPayload(eventPath)
	if err != nil {
		return fmt.Errorf("read event payload: %w", err)
	}

	raw, err = injectEventName(raw, eventName)
	if err != nil {
		return err
	}

	ev, err := event.Parse(raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("parse event: %w", err)
	}

	if err := id.Init(2); err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	database, err := db.New(ctx, db.Config(cfg.DB))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	ledger := store.New(database, cfg.Governance.TargetHourlyCost)

	// One event per invocation, so batches flush immediately.
	govCfg := cfg.Governance
	govCfg.MaxBatchSize = 1
	gov := governor.New(ledger, govCfg)

	runner, err := buildRunner(cfg)
	if err != nil {
		return fmt.Errorf("build agent runner: %w", err)
	}

	processor := service.NewProcessor(eventrouter.New(ledger, runner), gov)

	result, err := processor.Process(ctx, ev)
	if err != nil {
		return fmt.Errorf("process event: %w", err)
	}

	slog.InfoContext(ctx, "event processed",
		"event_id", result.EventID,
		"admitted", result.Admitted,
		"flushed", result.Flushed)
	return nil
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// injectEventName stamps the event type into the payload when a name was
// passed separately. A name already present in the payload wins.
func injectEventName(raw []byte, name string) ([]byte, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if _, ok := payload[event.EventNameField]; !ok && name != "" {
		payload[event.EventNameField] = name
		return json.Marshal(payload)
	}
	return raw, nil
}

func buildRunner(cfg config.Config) (agent.Runner, error) {
	if !cfg.Agent.Enabled() {
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
