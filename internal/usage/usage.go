// Package usage aggregates token usage, stage timings and estimated cost
// for one request.
package usage

import (
	"time"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/pricing"
)

// Stage is one sequential model call, classification or synthesis.
type Stage struct {
	Tokens   int
	Duration time.Duration
	Model    string
}

type Input struct {
	Classification *Stage
	Agents         []agents.Result
	Synthesis      *Stage
	// Total is the wall-clock duration of the whole request.
	Total   time.Duration
	Pricing *pricing.Table
}

type AgentUsage struct {
	Agent        agents.Kind `json:"agent"`
	Success      bool        `json:"success"`
	TokensUsed   int         `json:"tokens_used"`
	GenerationMs int64       `json:"generation_ms"`
	ExecutionMs  int64       `json:"execution_ms"`
	TotalMs      int64       `json:"total_ms"`
}

type Report struct {
	ClassificationTokens int          `json:"classification_tokens"`
	AgentTokens          int          `json:"agent_tokens"`
	SynthesisTokens      int          `json:"synthesis_tokens"`
	TotalTokens          int          `json:"total_tokens"`
	ClassificationMs     int64        `json:"classification_ms"`
	SynthesisMs          int64        `json:"synthesis_ms"`
	TotalMs              int64        `json:"total_ms"`
	Agents               []AgentUsage `json:"agents"`
	CostUSD              float64      `json:"cost_usd"`
}

// Aggregate never fails. Absent stages contribute zero; cost is only
// estimated when a pricing table is supplied.
func Aggregate(in Input) Report {
	r := Report{Agents: make([]AgentUsage, 0, len(in.Agents))}

	if s := in.Classification; s != nil {
		r.ClassificationTokens = nonNegative(s.Tokens)
		r.ClassificationMs = s.Duration.Milliseconds()
		r.CostUSD += cost(in.Pricing, s.Model, r.ClassificationTokens)
	}
	for _, a := range in.Agents {
		tokens := nonNegative(a.TokensUsed)
		r.AgentTokens += tokens
		r.CostUSD += cost(in.Pricing, a.Model, tokens)
		r.Agents = append(r.Agents, AgentUsage{
			Agent:        a.Agent,
			Success:      a.Success,
			TokensUsed:   tokens,
			GenerationMs: a.Timings.Generation.Milliseconds(),
			ExecutionMs:  a.Timings.Execution.Milliseconds(),
			TotalMs:      a.Timings.Total.Milliseconds(),
		})
	}
	if s := in.Synthesis; s != nil {
		r.SynthesisTokens = nonNegative(s.Tokens)
		r.SynthesisMs = s.Duration.Milliseconds()
		r.CostUSD += cost(in.Pricing, s.Model, r.SynthesisTokens)
	}

	r.TotalTokens = r.ClassificationTokens + r.AgentTokens + r.SynthesisTokens
	r.TotalMs = in.Total.Milliseconds()
	return r
}

func cost(table *pricing.Table, model string, tokens int) float64 {
	if table == nil || tokens == 0 {
		return 0
	}
	return table.CostForTokens(model, tokens)
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
