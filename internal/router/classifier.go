package router

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/llm"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/tracing"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/util"
)

const taxonomyPrompt = `You route questions for an Argo ocean float research assistant.
Classify the user's question into exactly one category:
- data_analysis: asks for measurements, statistics or comparisons from float data
  (temperature, salinity, oxygen, chlorophyll, positions, deployments).
- literature_review: asks what published research says about a topic.
- hybrid: needs both float data and published research.
- methodological: asks how something is measured, processed or quality controlled.
- forecasting: asks about future conditions or trends projected from float data.
- general: greetings, thanks, or questions unrelated to ocean data or research.

Respond with JSON only: {"category": "<category>", "confidence": <0..1>, "reasoning": "<one sentence>"}`

// Cache stores decisions by normalized question. Implementations swallow
// their own errors.
type Cache interface {
	Get(ctx context.Context, question string) (Decision, bool)
	Set(ctx context.Context, question string, d Decision)
}

type Options struct {
	MaxTokens     int
	MinConfidence float64
}

type Classifier struct {
	llm    llm.Completer
	opts   Options
	cache  Cache
	logger *zap.Logger
}

// NewClassifier builds a classifier; cache may be nil.
func NewClassifier(completer llm.Completer, opts Options, cache Cache, logger *zap.Logger) *Classifier {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{llm: completer, opts: opts, cache: cache, logger: logger}
}

// Classify never fails: any problem yields the default hybrid route.
func (c *Classifier) Classify(ctx context.Context, text string) Decision {
	ctx, span := tracing.StartSpan(ctx, "router.classify")
	defer span.End()

	d := c.classify(ctx, text).Normalize()
	span.SetAttributes(
		attribute.String("category", string(d.Category)),
		attribute.Float64("confidence", d.Confidence),
		attribute.Bool("fallback", d.Fallback),
	)
	metrics.RoutingDecisions.WithLabelValues(string(d.Category), boolLabel(d.Fallback)).Inc()
	return d
}

func (c *Classifier) classify(ctx context.Context, text string) Decision {
	question := strings.TrimSpace(text)
	if question == "" {
		return Default("empty question")
	}

	if c.cache != nil {
		if d, ok := c.cache.Get(ctx, question); ok {
			metrics.RoutingCache.WithLabelValues("hit").Inc()
			d.TokensUsed = 0
			d.Cached = true
			return d
		}
		metrics.RoutingCache.WithLabelValues("miss").Inc()
	}

	start := time.Now()
	completion, err := c.llm.Complete(ctx, llm.Request{
		AgentID:      "router",
		SystemPrompt: taxonomyPrompt,
		UserPrompt:   question,
		MaxTokens:    c.opts.MaxTokens,
	})
	if err != nil {
		c.logger.Warn("Classification failed, using default route", zap.Error(err))
		return Default("classification unavailable")
	}

	d, ok := parseDecision(completion.Text)
	d.TokensUsed = completion.TokensUsed
	if !ok {
		c.logger.Warn("Unrecognised classification, using default route",
			zap.String("label", util.TruncateString(completion.Text, 80, false)))
		fallback := Default("unrecognised category")
		fallback.TokensUsed = completion.TokensUsed
		return fallback
	}
	if d.Confidence < c.opts.MinConfidence {
		c.logger.Info("Low-confidence classification, using default route",
			zap.String("category", string(d.Category)),
			zap.Float64("confidence", d.Confidence))
		fallback := Default("low confidence: " + string(d.Category))
		fallback.TokensUsed = completion.TokensUsed
		return fallback
	}

	c.logger.Debug("Query classified",
		zap.String("category", string(d.Category)),
		zap.Float64("confidence", d.Confidence),
		zap.Duration("elapsed", time.Since(start)))
	if c.cache != nil {
		c.cache.Set(ctx, question, d)
	}
	return d
}

type classification struct {
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// parseDecision reads either a JSON classification object or a bare
// label. A bare label carries full confidence.
func parseDecision(text string) (Decision, bool) {
	if obj := util.ExtractJSONObject(text); obj != "" {
		var cl classification
		if err := json.Unmarshal([]byte(obj), &cl); err != nil {
			return Decision{}, false
		}
		cat, ok := ParseCategory(cl.Category)
		if !ok {
			return Decision{}, false
		}
		d := ForCategory(cat)
		d.Confidence = 1
		if cl.Confidence != nil {
			d.Confidence = util.Clamp01(*cl.Confidence)
		}
		d.Reasoning = strings.TrimSpace(cl.Reasoning)
		return d, true
	}

	cat, ok := ParseCategory(text)
	if !ok {
		return Decision{}, false
	}
	d := ForCategory(cat)
	d.Confidence = 1
	return d, true
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
