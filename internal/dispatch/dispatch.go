// Package dispatch runs the agents selected by a routing decision
// concurrently and collects their settled results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/tracing"
)

// ErrAgentUnavailable is reported for a selected agent that was never
// configured, e.g. retrieval with the vector index disabled.
var ErrAgentUnavailable = errors.New("agent unavailable")

// ErrAgentTimeout is reported when an agent outlives its budget.
var ErrAgentTimeout = errors.New("agent timed out")

type Executor struct {
	agents  map[agents.Kind]agents.Agent
	timeout time.Duration
	logger  *zap.Logger
}

// New registers agents by their kind. Nil agents are skipped.
func New(timeout time.Duration, logger *zap.Logger, registered ...agents.Agent) *Executor {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{agents: make(map[agents.Kind]agents.Agent), timeout: timeout, logger: logger}
	for _, a := range registered {
		if a != nil {
			e.agents[a.Kind()] = a
		}
	}
	return e
}

// Agent returns the registered agent of the given kind.
func (e *Executor) Agent(kind agents.Kind) (agents.Agent, bool) {
	a, ok := e.agents[kind]
	return a, ok
}

// Dispatch launches exactly the agents the decision selects and waits for
// all of them. It never fails; every launched agent yields a result.
func (e *Executor) Dispatch(ctx context.Context, d router.Decision, q agents.Query) Results {
	d = d.Normalize()
	selected := d.Selected()

	ctx, span := tracing.StartSpan(ctx, "dispatch.fan_out", attribute.Int("agents", len(selected)))
	defer span.End()

	settled := make([]agents.Result, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range selected {
		i, kind := i, kind
		g.Go(func() error {
			settled[i] = e.runOne(gctx, kind, q)
			return nil
		})
	}
	_ = g.Wait() // failures are captured in each result

	out := Results{byKind: make(map[agents.Kind]*agents.Result, len(selected))}
	for i := range settled {
		r := settled[i]
		out.byKind[r.Agent] = &r
	}
	return out
}

func (e *Executor) runOne(ctx context.Context, kind agents.Kind, q agents.Query) agents.Result {
	started := time.Now()
	agent, ok := e.agents[kind]
	if !ok {
		e.logger.Warn("Selected agent is not configured", zap.String("agent", string(kind)))
		r := agents.Failed(kind, "", ErrAgentUnavailable, agents.Timings{}, 0, "")
		metrics.RecordAgentMetrics(string(kind), false, 0)
		return r
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "agent."+string(kind))
	defer span.End()

	done := make(chan agents.Result, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- agents.Recovered(kind, v, started)
			}
		}()
		done <- agent.Run(ctx, q)
	}()

	var r agents.Result
	select {
	case r = <-done:
	case <-ctx.Done():
		err := ErrAgentTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			err = fmt.Errorf("agent cancelled: %w", ctx.Err())
		}
		r = agents.Failed(kind, "", err, agents.Timings{Total: time.Since(started)}, 0, "")
	}
	r.Agent = kind

	elapsed := time.Since(started)
	metrics.RecordAgentMetrics(string(kind), r.Success, float64(elapsed.Milliseconds()))
	span.SetAttributes(attribute.Bool("success", r.Success))
	if !r.Success {
		e.logger.Warn("Agent failed",
			zap.String("agent", string(kind)),
			zap.String("error", r.Error),
			zap.Duration("elapsed", elapsed))
	} else {
		e.logger.Debug("Agent finished",
			zap.String("agent", string(kind)),
			zap.Int("rows", r.RowCount()),
			zap.Int("documents", len(r.Documents)),
			zap.Duration("elapsed", elapsed))
	}
	return r
}
