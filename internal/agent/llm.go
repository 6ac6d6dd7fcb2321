package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/gatehouse-hq/gatehouse/internal/event"
)

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// runReport is the structured output the model returns for a run.
type runReport struct {
	Summary   string   `json:"summary"`
	NextSteps []string `json:"next_steps"`
}

type llmRunner struct {
	openai    openai.Client
	model     string
	maxTokens int
	estimate  CostEstimator
	hooks     []Hook
}

// NewLLMRunner creates a Runner backed by an OpenAI-compatible chat endpoint.
// The run asks the model for a structured triage report on the event subject;
// token usage comes from the API response and cost from the estimator.
func NewLLMRunner(cfg Config, estimate CostEstimator, hooks ...Hook) (Runner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if estimate == nil {
		estimate = DefaultCostEstimator
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	return &llmRunner{
		openai:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		estimate:  estimate,
		hooks:     hooks,
	}, nil
}

func (r *llmRunner) Run(ctx context.Context, ev *event.Event, prior json.RawMessage) (*RunResult, error) {
	for _, h := range r.hooks {
		h.OnRunStart(ctx, ev)
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "run_report",
		Description: openai.String("Structured report for a repository event"),
		Schema:      generateSchema[runReport](),
		Strict:      openai.Bool(true),
	}

	params := openai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(ev, prior)),
		},
		MaxTokens: openai.Int(int64(r.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	}

	start := time.Now()
	resp, err := r.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("agent chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	var report runReport
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &report); err != nil {
		return nil, fmt.Errorf("unmarshal run report: %w", err)
	}

	tokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	result := &RunResult{
		Summary: report.Summary,
		Tokens:  tokens,
		Cost:    r.estimate(tokens),
	}

	slog.DebugContext(ctx, "agent run completed",
		"model", r.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"tokens", tokens,
		"cost", result.Cost)

	for _, h := range r.hooks {
		h.OnRunDone(ctx, ev, result)
	}

	return result, nil
}

const systemPrompt = "You are a software engineering assistant reviewing repository activity. " +
	"Produce a concise triage report for the event you are given."

func buildPrompt(ev *event.Event, prior json.RawMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s (%s)\n", ev.Type, ev.Action)
	if ev.Subject != nil {
		fmt.Fprintf(&b, "Subject #%d: %s\n", ev.Subject.Number, ev.Subject.Title)
	}
	if ev.Repo != "" {
		fmt.Fprintf(&b, "Repository: %s\n", ev.Repo)
	}
	if len(prior) > 0 {
		b.WriteString("\nPrior run state:\n")
		b.Write(prior)
		b.WriteString("\n")
	}
	b.WriteString("\nPayload:\n")
	b.Write(ev.Raw)
	return b.String()
}

func generateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
