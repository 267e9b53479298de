// Package pipeline coordinates one research request: classification,
// fan-out, synthesis and accounting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/dispatch"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/pricing"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/synthesis"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/tracing"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/usage"
)

var (
	ErrEmptyQuery       = errors.New("query text is required")
	ErrUnsupportedAgent = errors.New("dry run supports only the profiles and metadata agents")
	ErrInvalidQuery     = errors.New("invalid query")

	// ErrConversationFailed is returned when a conversational-only request
	// gets no reply. Synthesis is never attempted on that path.
	ErrConversationFailed = errors.New("conversational agent failed")
)

// Classifier is satisfied by *router.Classifier.
type Classifier interface {
	Classify(ctx context.Context, text string) router.Decision
}

// Synthesizer is satisfied by *synthesis.Orchestrator.
type Synthesizer interface {
	Synthesize(ctx context.Context, q agents.Query, d router.Decision, results dispatch.Results) (synthesis.Response, error)
}

type dryRunner interface {
	DryRun(ctx context.Context, q agents.Query) agents.Result
}

type Service struct {
	classifier  Classifier
	executor    *dispatch.Executor
	synthesizer Synthesizer
	pricing     *pricing.Table
	logger      *zap.Logger
}

func NewService(classifier Classifier, executor *dispatch.Executor, synthesizer Synthesizer, prices *pricing.Table, logger *zap.Logger) *Service {
	if prices == nil {
		prices = pricing.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		classifier:  classifier,
		executor:    executor,
		synthesizer: synthesizer,
		pricing:     prices,
		logger:      logger,
	}
}

// Ask answers one research question. It returns either a complete
// response or an error; partial answers are caveated, never errors.
func (s *Service) Ask(ctx context.Context, q agents.Query) (*synthesis.Response, error) {
	start := time.Now()
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	requestID := RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = WithRequestID(ctx, requestID)
	}
	logger := s.logger.With(zap.String("request_id", requestID))

	ctx, span := tracing.StartSpan(ctx, "pipeline.ask", attribute.String("request_id", requestID))
	defer span.End()

	classifyStart := time.Now()
	decision := s.classifier.Classify(ctx, q.Text)
	classification := &usage.Stage{Tokens: decision.TokensUsed, Duration: time.Since(classifyStart)}
	decision = decision.ApplyToggles(q).Normalize()
	span.SetAttributes(attribute.String("category", string(decision.Category)))

	logger.Info("Query routed",
		zap.String("category", string(decision.Category)),
		zap.Float64("confidence", decision.Confidence),
		zap.Bool("fallback", decision.Fallback),
		zap.Any("agents", decision.Selected()))

	results := s.executor.Dispatch(ctx, decision, q)

	var (
		resp      synthesis.Response
		synthStep *usage.Stage
	)
	if decision.ConversationalOnly() {
		conv, ok := results.Conversational()
		if !ok || !conv.Success {
			err := fmt.Errorf("%w: %s", ErrConversationFailed, conversationError(conv, ok))
			tracing.RecordError(span, err)
			metrics.RecordQueryMetrics(string(decision.Category), "error", time.Since(start).Seconds(), 0, 0)
			logger.Error("Request failed", zap.Error(err))
			return nil, err
		}
		resp = synthesis.Direct(decision, conv)
	} else {
		var err error
		resp, err = s.synthesizer.Synthesize(ctx, q, decision, results)
		if err != nil {
			tracing.RecordError(span, err)
			metrics.RecordQueryMetrics(string(decision.Category), "error", time.Since(start).Seconds(), 0, 0)
			logger.Error("Request failed", zap.Error(err))
			return nil, err
		}
		synthStep = &usage.Stage{Tokens: resp.SynthesisTokens, Duration: resp.SynthesisDuration, Model: resp.SynthesisModel}
	}

	report := usage.Aggregate(usage.Input{
		Classification: classification,
		Agents:         results.All(),
		Synthesis:      synthStep,
		Total:          time.Since(start),
		Pricing:        s.pricing,
	})
	resp.RequestID = requestID
	resp.Metrics = &report
	resp.TokensUsed = report.TotalTokens
	resp.ProcessingTimeMs = report.TotalMs

	metrics.RecordQueryMetrics(string(decision.Category), "success", time.Since(start).Seconds(), report.TotalTokens, report.CostUSD)
	logger.Info("Request answered",
		zap.Int("citations", len(resp.Citations)),
		zap.Int("tokens", report.TotalTokens),
		zap.Float64("cost_usd", report.CostUSD),
		zap.Duration("elapsed", time.Since(start)))
	return &resp, nil
}

func conversationError(r agents.Result, present bool) string {
	switch {
	case !present:
		return "agent not registered"
	case r.Error != "":
		return r.Error
	default:
		return "no reply"
	}
}

// DryRun generates and validates a store query without executing it.
// Agent failures, including rejected queries, are reported in the result.
func (s *Service) DryRun(ctx context.Context, kind agents.Kind, q agents.Query) (agents.Result, error) {
	if !kind.Structured() {
		return agents.Result{}, ErrUnsupportedAgent
	}
	if err := validateQuery(q); err != nil {
		return agents.Result{}, err
	}
	agent, ok := s.executor.Agent(kind)
	if !ok {
		return agents.Result{}, fmt.Errorf("%s: %w", kind, dispatch.ErrAgentUnavailable)
	}
	runner, ok := agent.(dryRunner)
	if !ok {
		return agents.Result{}, ErrUnsupportedAgent
	}

	ctx, span := tracing.StartSpan(ctx, "pipeline.dry_run", attribute.String("agent", string(kind)))
	defer span.End()
	return runner.DryRun(ctx, q), nil
}

func (s *Service) Classify(ctx context.Context, text string) router.Decision {
	return s.classifier.Classify(ctx, text)
}

func validateQuery(q agents.Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return ErrEmptyQuery
	}
	if tr := q.TimeRange; tr != nil && !tr.End.IsZero() && tr.End.Before(tr.Start) {
		return fmt.Errorf("%w: time range ends before it starts", ErrInvalidQuery)
	}
	if yr := q.YearRange; yr != nil && yr.From > 0 && yr.To > 0 && yr.To < yr.From {
		return fmt.Errorf("%w: year range ends before it starts", ErrInvalidQuery)
	}
	return nil
}
