package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/llm"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/sqlguard"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/stores"
)

var ErrEmptyQuestion = errors.New("query text is empty")

type StructuredOptions struct {
	MaxRows   int
	MaxTokens int
}

// StructuredAgent generates SQL for one store, validates it and runs it.
type StructuredAgent struct {
	kind   Kind
	schema string
	store  stores.Executor
	llm    llm.Completer
	opts   StructuredOptions
	logger *zap.Logger
}

// NewProfileAgent queries the per-measurement profile store.
func NewProfileAgent(store stores.Executor, completer llm.Completer, opts StructuredOptions, logger *zap.Logger) *StructuredAgent {
	return newStructured(KindProfiles, profileSchema, store, completer, opts, logger)
}

// NewMetadataAgent queries the float metadata store.
func NewMetadataAgent(store stores.Executor, completer llm.Completer, opts StructuredOptions, logger *zap.Logger) *StructuredAgent {
	return newStructured(KindMetadata, metadataSchema, store, completer, opts, logger)
}

func newStructured(kind Kind, schema string, store stores.Executor, completer llm.Completer, opts StructuredOptions, logger *zap.Logger) *StructuredAgent {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 500
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 800
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructuredAgent{
		kind:   kind,
		schema: schema,
		store:  store,
		llm:    completer,
		opts:   opts,
		logger: logger.With(zap.String("agent", string(kind))),
	}
}

func (a *StructuredAgent) Kind() Kind { return a.kind }

// Run generates, validates and executes.
func (a *StructuredAgent) Run(ctx context.Context, q Query) Result {
	return a.run(ctx, q, false)
}

// DryRun generates and validates but never touches the store.
func (a *StructuredAgent) DryRun(ctx context.Context, q Query) Result {
	return a.run(ctx, q, true)
}

func (a *StructuredAgent) run(ctx context.Context, q Query, dryRun bool) (res Result) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			a.logger.Error("Structured agent panicked", zap.Any("panic", v))
			res = Recovered(a.kind, v, start)
		}
	}()

	var t Timings
	finish := func() Timings { t.Total = time.Since(start); return t }

	if q.Text == "" {
		return Failed(a.kind, "", ErrEmptyQuestion, finish(), 0, "")
	}

	genStart := time.Now()
	completion, err := a.llm.Complete(ctx, llm.Request{
		AgentID:      "sql_" + string(a.kind),
		SystemPrompt: structuredSystemPrompt(a.schema, a.opts.MaxRows),
		UserPrompt:   structuredUserPrompt(q),
		MaxTokens:    a.opts.MaxTokens,
	})
	t.Generation = time.Since(genStart)
	if err != nil {
		a.logger.Warn("Query generation failed", zap.Error(err))
		return Failed(a.kind, "", fmt.Errorf("query generation failed: %w", err), finish(), 0, "")
	}

	verdict := sqlguard.Validate(completion.Text)
	if !verdict.OK {
		metrics.RejectedQueries.WithLabelValues(string(a.kind)).Inc()
		a.logger.Warn("Generated query rejected", zap.Int("length", len(completion.Text)))
		return Failed(a.kind, verdict.Normalized, sqlguard.ErrRejected, finish(), completion.TokensUsed, completion.Model)
	}

	if dryRun {
		return succeededDryRun(a.kind, verdict.Normalized, finish(), completion.TokensUsed, completion.Model)
	}

	execStart := time.Now()
	rows, err := a.store.Query(ctx, verdict.Normalized, a.opts.MaxRows)
	t.Execution = time.Since(execStart)
	if err != nil {
		return Failed(a.kind, verdict.Normalized, fmt.Errorf("query execution failed: %w", err), finish(), completion.TokensUsed, completion.Model)
	}

	a.logger.Debug("Structured agent completed",
		zap.Int("rows", rows.Len()),
		zap.Bool("truncated", rows.Truncated),
		zap.Duration("generation", t.Generation),
		zap.Duration("execution", t.Execution),
	)
	return succeededRows(a.kind, verdict.Normalized, rows, finish(), completion.TokensUsed, completion.Model)
}
