// Package synthesis turns settled agent results into one cited answer.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/dispatch"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/llm"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/tracing"
)

// ErrSynthesisFailed is the one fatal stage error.
var ErrSynthesisFailed = errors.New("synthesis failed")

type Options struct {
	MaxTokens       int
	MaxPromptRows   int
	MaxPromptBytes  int
	MaxExcerptChars int
}

type Orchestrator struct {
	llm    llm.Completer
	opts   Options
	logger *zap.Logger
}

func New(completer llm.Completer, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1500
	}
	if opts.MaxPromptRows <= 0 {
		opts.MaxPromptRows = 25
	}
	if opts.MaxPromptBytes <= 0 {
		opts.MaxPromptBytes = 8000
	}
	if opts.MaxExcerptChars <= 0 {
		opts.MaxExcerptChars = 400
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{llm: completer, opts: opts, logger: logger}
}

// Synthesize calls the model once. Its failure fails the request; every
// other failure has already been folded into the results.
func (o *Orchestrator) Synthesize(ctx context.Context, q agents.Query, d router.Decision, results dispatch.Results) (Response, error) {
	ctx, span := tracing.StartSpan(ctx, "synthesis.synthesize",
		attribute.String("category", string(d.Category)))
	defer span.End()

	knowledgeOnly := !results.AnySucceeded()
	prompt := promptBuilder{
		maxRows:    o.opts.MaxPromptRows,
		maxBytes:   o.opts.MaxPromptBytes,
		maxExcerpt: o.opts.MaxExcerptChars,
	}.build(q, d, results, knowledgeOnly)

	start := time.Now()
	completion, err := o.llm.Complete(ctx, llm.Request{
		AgentID:      "synthesis",
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    o.opts.MaxTokens,
		Temperature:  0.3,
	})
	elapsed := time.Since(start)
	metrics.SynthesisDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.SynthesisErrors.Inc()
		tracing.RecordError(span, err)
		o.logger.Error("Synthesis call failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return Response{}, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	answer := strings.TrimSpace(completion.Text)
	if knowledgeOnly {
		metrics.CaveatedAnswers.Inc()
		answer = KnowledgeOnlyCaveat + "\n\n" + answer
	}

	var retrieval *agents.Result
	var docs []agents.Document
	if lit := results.Get(agents.KindRetrieval); lit != nil {
		retrieval = lit
		if lit.Success {
			docs = lit.Documents
		}
	}
	citations := Citations(docs)

	o.logger.Debug("Synthesis complete",
		zap.Int("prompt_bytes", len(prompt)),
		zap.Int("citations", len(citations)),
		zap.Bool("knowledge_only", knowledgeOnly),
		zap.Duration("elapsed", elapsed))

	return Response{
		Answer:            answer,
		Citations:         citations,
		DataQuality:       Quality(results.Structured(), retrieval, citations),
		Routing:           d,
		Timestamp:         time.Now().UTC(),
		Agents:            results.All(),
		SynthesisTokens:   completion.TokensUsed,
		SynthesisModel:    completion.Model,
		SynthesisDuration: elapsed,
	}, nil
}

// Direct wraps a conversational reply without a synthesis call. It has no
// citations and no data quality block.
func Direct(d router.Decision, r agents.Result) Response {
	return Response{
		Answer:      r.Text,
		Citations:   []Citation{},
		DataQuality: nil,
		Routing:     d,
		Timestamp:   time.Now().UTC(),
		Agents:      []agents.Result{r},
	}
}
