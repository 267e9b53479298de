package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/llm"
)

// ConversationalAgent answers greetings and chit-chat without data.
type ConversationalAgent struct {
	llm       llm.Completer
	maxTokens int
	logger    *zap.Logger
}

func NewConversationalAgent(completer llm.Completer, maxTokens int, logger *zap.Logger) *ConversationalAgent {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationalAgent{llm: completer, maxTokens: maxTokens, logger: logger.With(zap.String("agent", string(KindConversational)))}
}

func (a *ConversationalAgent) Kind() Kind { return KindConversational }

func (a *ConversationalAgent) Run(ctx context.Context, q Query) (res Result) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			a.logger.Error("Conversational agent panicked", zap.Any("panic", v))
			res = Recovered(KindConversational, v, start)
		}
	}()

	completion, err := a.llm.Complete(ctx, llm.Request{
		AgentID:      "conversational",
		SystemPrompt: conversationalSystemPrompt,
		UserPrompt:   strings.TrimSpace(q.Text),
		MaxTokens:    a.maxTokens,
		Temperature:  0.7,
	})
	elapsed := time.Since(start)
	t := Timings{Generation: elapsed, Total: elapsed}
	if err != nil {
		return Failed(KindConversational, "", fmt.Errorf("conversation failed: %w", err), t, 0, "")
	}
	return succeededText(completion.Text, t, completion.TokensUsed, completion.Model)
}
