package llm

import (
	"context"
)

// Waiter blocks until a call estimated at the given token count may run.
type Waiter interface {
	Wait(ctx context.Context, estimatedTokens int) error
}

// Throttled paces a Completer. Prompt tokens are estimated at four
// characters per token and added to the requested completion budget.
type Throttled struct {
	next   Completer
	waiter Waiter
}

func NewThrottled(next Completer, waiter Waiter) *Throttled {
	return &Throttled{next: next, waiter: waiter}
}

func (t *Throttled) Complete(ctx context.Context, req Request) (Completion, error) {
	if t.waiter != nil {
		if err := t.waiter.Wait(ctx, EstimateTokens(req)); err != nil {
			return Completion{}, err
		}
	}
	return t.next.Complete(ctx, req)
}

func EstimateTokens(req Request) int {
	return (len(req.SystemPrompt)+len(req.UserPrompt))/4 + max(req.MaxTokens, 0)
}
