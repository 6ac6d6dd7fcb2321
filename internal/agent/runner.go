package agent

import (
	"context"
	"encoding/json"

	"github.com/gatehouse-hq/gatehouse/internal/event"
)

// Runner is the opaque "run" operation invoked once an event clears
// governance. The front door does not manage the run's lifecycle: it blocks
// until the run completes or fails and never retries. prior carries cached
// model state from an earlier run of the same subject, nil when none is
// fresh enough to reuse.
type Runner interface {
	Run(ctx context.Context, ev *event.Event, prior json.RawMessage) (*RunResult, error)
}

// RunResult reports what a single agent invocation consumed and produced.
type RunResult struct {
	Summary string
	Tokens  int64
	Cost    float64
}

// CostEstimator converts a token count into currency. The heuristic is
// pluggable; governance only needs a number to journal.
type CostEstimator func(tokens int64) float64

// DefaultCostEstimator applies a flat per-token rate.
func DefaultCostEstimator(tokens int64) float64 {
	return float64(tokens) * 0.001
}

type nopRunner struct{}

// NewNopRunner returns a Runner that consumes nothing and produces nothing.
// Used when no LLM credentials are configured.
func NewNopRunner() Runner {
	return nopRunner{}
}

func (nopRunner) Run(ctx context.Context, ev *event.Event, prior json.RawMessage) (*RunResult, error) {
	return &RunResult{}, nil
}

// Hook observes agent runs. Hooks must tolerate concurrent invocations from
// parallel webhook workers.
type Hook interface {
	OnRunStart(ctx context.Context, ev *event.Event)
	OnRunDone(ctx context.Context, ev *event.Event, result *RunResult)
}
