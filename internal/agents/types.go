// Package agents holds the four specialised agents a research query can be
// routed to. Every agent returns a Result value; failures never escape as
// errors or panics.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/stores"
)

// Kind names an agent.
type Kind string

const (
	KindProfiles       Kind = "profiles"
	KindMetadata       Kind = "metadata"
	KindRetrieval      Kind = "retrieval"
	KindConversational Kind = "conversational"
)

// ParseKind accepts the wire names above.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindProfiles, KindMetadata, KindRetrieval, KindConversational:
		return k, nil
	}
	return "", fmt.Errorf("unknown agent %q", s)
}

// Structured reports whether the agent generates and runs store queries.
func (k Kind) Structured() bool {
	return k == KindProfiles || k == KindMetadata
}

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// YearRange bounds publication years, inclusive. Zero means unbounded.
type YearRange struct {
	From int `json:"from,omitempty"`
	To   int `json:"to,omitempty"`
}

// Query is one research question plus its optional scope. Treat it as
// immutable once built.
type Query struct {
	Text             string     `json:"text"`
	FloatID          string     `json:"float_id,omitempty"`
	TimeRange        *TimeRange `json:"time_range,omitempty"`
	YearRange        *YearRange `json:"year_range,omitempty"`
	EnableData       bool       `json:"enable_data"`
	EnableLiterature bool       `json:"enable_literature"`
}

// NewQuery returns a query with every agent permitted.
func NewQuery(text string) Query {
	return Query{Text: text, EnableData: true, EnableLiterature: true}
}

// Document is one retrieved literature chunk.
type Document struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	DOI     string   `json:"doi,omitempty"`
	Journal string   `json:"journal,omitempty"`
	URL     string   `json:"url,omitempty"`
	Year    int      `json:"year,omitempty"`
	Excerpt string   `json:"excerpt"`
	Score   float64  `json:"score"`
}

// Searcher is the retrieval collaborator.
type Searcher interface {
	Search(ctx context.Context, text string, topK int, years *YearRange) ([]Document, error)
}

// Agent is the common contract.
type Agent interface {
	Kind() Kind
	Run(ctx context.Context, q Query) Result
}

type Timings struct {
	Generation time.Duration
	Execution  time.Duration
	Total      time.Duration
}

func (t Timings) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		GenerationMs int64 `json:"generation_ms"`
		ExecutionMs  int64 `json:"execution_ms"`
		TotalMs      int64 `json:"total_ms"`
	}{t.Generation.Milliseconds(), t.Execution.Milliseconds(), t.Total.Milliseconds()})
}

// Result is the envelope every agent returns. Success implies Error is
// empty; failure implies Rows, Documents and Text are empty. Query holds
// the normalized statement for structured agents, even on rejection.
type Result struct {
	Agent      Kind            `json:"agent"`
	Success    bool            `json:"success"`
	Query      string          `json:"query,omitempty"`
	Columns    []string        `json:"columns,omitempty"`
	Rows       []stores.Record `json:"rows,omitempty"`
	Truncated  bool            `json:"truncated,omitempty"`
	Documents  []Document      `json:"documents,omitempty"`
	Text       string          `json:"text,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timings    Timings         `json:"timings"`
	TokensUsed int             `json:"tokens_used,omitempty"`
	Model      string          `json:"model,omitempty"`
	DryRun     bool            `json:"dry_run,omitempty"`
}

// RowCount is the number of rows returned (at most the cap).
func (r Result) RowCount() int { return len(r.Rows) }

func succeededRows(kind Kind, query string, rows stores.Rows, t Timings, tokens int, model string) Result {
	return Result{
		Agent:      kind,
		Success:    true,
		Query:      query,
		Columns:    rows.Columns,
		Rows:       rows.Records,
		Truncated:  rows.Truncated,
		Timings:    t,
		TokensUsed: tokens,
		Model:      model,
	}
}

func succeededDryRun(kind Kind, query string, t Timings, tokens int, model string) Result {
	return Result{Agent: kind, Success: true, Query: query, Timings: t, TokensUsed: tokens, Model: model, DryRun: true}
}

func succeededDocuments(docs []Document, t Timings) Result {
	return Result{Agent: KindRetrieval, Success: true, Documents: docs, Timings: t}
}

func succeededText(text string, t Timings, tokens int, model string) Result {
	return Result{Agent: KindConversational, Success: true, Text: text, Timings: t, TokensUsed: tokens, Model: model}
}

// Failed builds a failure envelope. Tokens already spent are kept for
// accounting.
func Failed(kind Kind, query string, err error, t Timings, tokens int, model string) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Agent: kind, Query: query, Error: msg, Timings: t, TokensUsed: tokens, Model: model}
}

// Recovered converts a panic value into a failed result.
func Recovered(kind Kind, v any, started time.Time) Result {
	return Failed(kind, "", fmt.Errorf("agent panicked: %v", v), Timings{Total: time.Since(started)}, 0, "")
}
