package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/dispatch"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/llm"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/stores"
)

type fakeCompleter struct {
	text  string
	err   error
	calls int
	last  llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: f.text, TokensUsed: 250, Model: "gpt-4o"}, nil
}

func rows(n int) []stores.Record {
	out := make([]stores.Record, n)
	for i := range out {
		out[i] = stores.Record{"float_id": fmt.Sprintf("29022%02d", i), "temperature": 4.5}
	}
	return out
}

func structured(kind agents.Kind, n int) agents.Result {
	return agents.Result{Agent: kind, Success: true, Query: "SELECT float_id, temperature FROM argo_profiles LIMIT 500",
		Columns: []string{"float_id", "temperature"}, Rows: rows(n)}
}

func failed(kind agents.Kind) agents.Result {
	return agents.Failed(kind, "", errors.New("connection refused"), agents.Timings{}, 0, "")
}

func literature() agents.Result {
	return agents.Result{Agent: agents.KindRetrieval, Success: true, Documents: []agents.Document{
		{ID: "a", Title: "Mixed layer depth climatology", Authors: []string{"de Boyer Montégut"}, Year: 2004, Score: 0.91, Excerpt: strings.Repeat("word ", 300)},
		{ID: "b", Title: "Argo float oxygen sensors", Score: 1.4},
		{ID: "c", Title: "Deep Argo", Score: -0.2},
	}}
}

func newOrchestrator(t *testing.T, gen *fakeCompleter) *Orchestrator {
	return New(gen, Options{MaxPromptRows: 10, MaxPromptBytes: 4000, MaxExcerptChars: 80}, zaptest.NewLogger(t))
}

func TestSynthesizeHybrid(t *testing.T) {
	gen := &fakeCompleter{text: " Temperatures average 4.5C [1]. "}
	o := newOrchestrator(t, gen)
	results := dispatch.NewResults(structured(agents.KindProfiles, 3), structured(agents.KindMetadata, 2), literature())

	resp, err := o.Synthesize(context.Background(), agents.NewQuery("Deep temperature trends?"), router.ForCategory(router.Hybrid), results)
	require.NoError(t, err)
	assert.Equal(t, "Temperatures average 4.5C [1].", resp.Answer)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 250, resp.SynthesisTokens)

	require.Len(t, resp.Citations, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{resp.Citations[0].ID, resp.Citations[1].ID, resp.Citations[2].ID})
	assert.Equal(t, 1.0, resp.Citations[1].RelevanceScore)
	assert.Equal(t, 0.0, resp.Citations[2].RelevanceScore)
	assert.NotNil(t, resp.Citations[1].Authors)

	require.NotNil(t, resp.DataQuality)
	assert.Equal(t, 5, resp.DataQuality.FloatsAnalyzed)
	assert.Equal(t, 2, resp.DataQuality.SQLQueriesExecuted)
	assert.Equal(t, 1, resp.DataQuality.VectorSearches)
	assert.Equal(t, 3, resp.DataQuality.LiteratureReferenced)
	require.NotNil(t, resp.DataQuality.AvgCitationRelevance)
	assert.InDelta(t, (0.91+1.0+0.0)/3, *resp.DataQuality.AvgCitationRelevance, 1e-9)

	p := gen.last.UserPrompt
	assert.Contains(t, p, "Question: Deep temperature trends?")
	assert.Contains(t, p, "Detected category: hybrid")
	assert.Contains(t, p, "[1] Mixed layer depth climatology - de Boyer Montégut (2004)")
	assert.NotContains(t, p, strings.Repeat("word ", 30))
	assert.NotContains(t, p, "general oceanographic knowledge")
}

func TestSynthesizeFloatsAnalyzedCountsOnlySuccesses(t *testing.T) {
	gen := &fakeCompleter{text: "ok"}
	o := newOrchestrator(t, gen)
	bad := failed(agents.KindMetadata)
	results := dispatch.NewResults(structured(agents.KindProfiles, 4), bad)

	resp, err := o.Synthesize(context.Background(), agents.NewQuery("q"), router.ForCategory(router.DataAnalysis), results)
	require.NoError(t, err)
	assert.Equal(t, 4, resp.DataQuality.FloatsAnalyzed)
	assert.Equal(t, 1, resp.DataQuality.SQLQueriesExecuted)
	assert.Zero(t, resp.DataQuality.VectorSearches)
	assert.Nil(t, resp.DataQuality.AvgCitationRelevance)
	assert.Empty(t, resp.Citations)
	assert.Contains(t, gen.last.UserPrompt, "## Float metadata\n(unavailable)")
	assert.NotContains(t, gen.last.UserPrompt, "connection refused")
}

func TestSynthesizeAllFailedIsCaveated(t *testing.T) {
	gen := &fakeCompleter{text: "Argo floats drift at 1000 dbar."}
	o := newOrchestrator(t, gen)
	results := dispatch.NewResults(failed(agents.KindProfiles), failed(agents.KindMetadata), failed(agents.KindRetrieval))

	resp, err := o.Synthesize(context.Background(), agents.NewQuery("q"), router.Default("x"), results)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Answer, KnowledgeOnlyCaveat))
	assert.Contains(t, resp.Answer, "Argo floats drift")
	assert.Contains(t, gen.last.UserPrompt, "general oceanographic knowledge")
	require.NotNil(t, resp.DataQuality)
	assert.Zero(t, resp.DataQuality.FloatsAnalyzed)
}

func TestSynthesizeNoAgentsIsCaveated(t *testing.T) {
	gen := &fakeCompleter{text: "answer"}
	o := newOrchestrator(t, gen)
	resp, err := o.Synthesize(context.Background(), agents.NewQuery("q"), router.Decision{Category: router.Hybrid}, dispatch.NewResults())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Answer, KnowledgeOnlyCaveat))
}

func TestSynthesizeFailureIsFatal(t *testing.T) {
	gen := &fakeCompleter{err: errors.New("llm-service unavailable")}
	o := newOrchestrator(t, gen)
	_, err := o.Synthesize(context.Background(), agents.NewQuery("q"), router.ForCategory(router.DataAnalysis),
		dispatch.NewResults(structured(agents.KindProfiles, 1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesisFailed)
}

func TestPromptRowBudget(t *testing.T) {
	p := promptBuilder{maxRows: 5, maxBytes: 100000, maxExcerpt: 50}
	r := structured(agents.KindProfiles, 12)
	out := p.build(agents.NewQuery("q"), router.ForCategory(router.DataAnalysis), dispatch.NewResults(r), false)
	assert.Contains(t, out, "(showing 5 of 12 rows)")
	assert.Equal(t, 5, strings.Count(out, `"float_id"`))
}

func TestPromptByteBudget(t *testing.T) {
	p := promptBuilder{maxRows: 100, maxBytes: 120, maxExcerpt: 50}
	r := structured(agents.KindProfiles, 20)
	out := p.build(agents.NewQuery("q"), router.ForCategory(router.DataAnalysis), dispatch.NewResults(r), false)
	shown := strings.Count(out, `"float_id"`)
	assert.Greater(t, shown, 0)
	assert.Less(t, shown, 20)
	assert.Contains(t, out, fmt.Sprintf("(showing %d of 20 rows)", shown))
}

func TestPromptMarksStoreCap(t *testing.T) {
	p := promptBuilder{maxRows: 50, maxBytes: 100000, maxExcerpt: 50}
	r := structured(agents.KindMetadata, 3)
	r.Truncated = true
	out := p.build(agents.NewQuery("q"), router.ForCategory(router.DataAnalysis), dispatch.NewResults(r), false)
	assert.Contains(t, out, "(showing 3 of 3+ rows)")
}

func TestDirect(t *testing.T) {
	r := agents.Result{Agent: agents.KindConversational, Success: true, Text: "Hello! Ask me about Argo floats."}
	resp := Direct(router.ForCategory(router.General), r)
	assert.Equal(t, r.Text, resp.Answer)
	assert.Nil(t, resp.DataQuality)
	assert.NotNil(t, resp.Citations)
	assert.Empty(t, resp.Citations)
}
