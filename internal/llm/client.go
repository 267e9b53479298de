// Package llm is the client for the llm-service, which backs intent
// classification, query generation, conversation and answer synthesis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/tracing"
)

// ErrEmptyCompletion is returned when the service answers with no text.
var ErrEmptyCompletion = errors.New("llm service returned an empty response")

// Request is one completion call. AgentID selects the service-side role
// preset and labels the call in its logs.
type Request struct {
	AgentID      string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

type Completion struct {
	Text       string
	TokensUsed int
	Model      string
}

// Completer is what the router, agents and synthesis depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

type Client struct {
	baseURL string
	http    *circuitbreaker.HTTPClient
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    circuitbreaker.NewHTTPClient(&http.Client{Timeout: timeout}, circuitbreaker.LLMService, logger),
		logger:  logger,
	}
}

type queryRequest struct {
	Query          string         `json:"query"`
	Context        queryContext   `json:"context"`
	AgentID        string         `json:"agent_id,omitempty"`
	SessionContext sessionContext `json:"session_context"`
}

type queryContext struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type sessionContext struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type queryResponse struct {
	Success    *bool  `json:"success"`
	Response   string `json:"response"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Error      string `json:"error"`
}

// Complete posts to /agent/query. Transport failures, non-2xx statuses,
// success=false and empty text are all errors.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	url := c.baseURL + "/agent/query"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, err := json.Marshal(queryRequest{
		Query:          req.UserPrompt,
		Context:        queryContext{MaxTokens: req.MaxTokens, Temperature: req.Temperature},
		AgentID:        req.AgentID,
		SessionContext: sessionContext{SystemPrompt: req.SystemPrompt},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.AgentID != "" {
		httpReq.Header.Set("X-Agent-ID", req.AgentID)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		tracing.RecordError(span, err)
		return Completion{}, fmt.Errorf("LLM service call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read LLM response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("HTTP %d from LLM service", resp.StatusCode)
		tracing.RecordError(span, err)
		return Completion{}, err
	}

	var out queryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Completion{}, fmt.Errorf("failed to parse LLM response: %w", err)
	}
	if out.Success != nil && !*out.Success {
		msg := out.Error
		if msg == "" {
			msg = "success=false"
		}
		return Completion{}, fmt.Errorf("LLM service error: %s", msg)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return Completion{}, ErrEmptyCompletion
	}

	c.logger.Debug("LLM call completed",
		zap.String("agent_id", req.AgentID),
		zap.String("model", out.ModelUsed),
		zap.Int("tokens", out.TokensUsed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Completion{Text: text, TokensUsed: out.TokensUsed, Model: out.ModelUsed}, nil
}

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm service health returned %d", resp.StatusCode)
	}
	return nil
}
