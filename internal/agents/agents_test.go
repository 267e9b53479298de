package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/llm"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/sqlguard"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/stores"
)

type fakeCompleter struct {
	text  string
	err   error
	panic bool
	last  llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	f.last = req
	if f.panic {
		panic("completer exploded")
	}
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: f.text, TokensUsed: 17, Model: "gpt-4o-mini"}, nil
}

type fakeStore struct {
	rows    stores.Rows
	err     error
	calls   int
	lastSQL string
	lastCap int
}

func (f *fakeStore) Query(_ context.Context, q string, maxRows int) (stores.Rows, error) {
	f.calls++
	f.lastSQL, f.lastCap = q, maxRows
	return f.rows, f.err
}

type fakeSearcher struct {
	docs  []Document
	err   error
	years *YearRange
	topK  int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, topK int, years *YearRange) ([]Document, error) {
	f.topK, f.years = topK, years
	return f.docs, f.err
}

func assertResultInvariant(t *testing.T, r Result) {
	t.Helper()
	if r.Success {
		assert.Empty(t, r.Error)
		return
	}
	assert.NotEmpty(t, r.Error)
	assert.Empty(t, r.Rows)
	assert.Empty(t, r.Documents)
	assert.Empty(t, r.Text)
}

func TestStructuredAgentRun(t *testing.T) {
	store := &fakeStore{rows: stores.Rows{
		Columns: []string{"float_id", "n"},
		Records: []stores.Record{{"float_id": "2902224", "n": int64(12)}},
	}}
	gen := &fakeCompleter{text: "```sql\nSELECT float_id, COUNT(*) AS n FROM argo_profiles GROUP BY float_id;\n```"}
	agent := NewProfileAgent(store, gen, StructuredOptions{MaxRows: 50}, zaptest.NewLogger(t))

	res := agent.Run(context.Background(), NewQuery("How many levels per float?"))
	assertResultInvariant(t, res)

	require.True(t, res.Success)
	assert.Equal(t, KindProfiles, res.Agent)
	assert.Equal(t, "SELECT float_id, COUNT(*) AS n FROM argo_profiles GROUP BY float_id", res.Query)
	assert.Equal(t, res.Query, store.lastSQL)
	assert.Equal(t, 50, store.lastCap)
	assert.Equal(t, 1, res.RowCount())
	assert.Equal(t, 17, res.TokensUsed)
	assert.Contains(t, gen.last.SystemPrompt, "argo_profiles")
	assert.Contains(t, gen.last.SystemPrompt, "LIMIT clause no larger than 50")
}

func TestStructuredAgentRejectsUnsafeText(t *testing.T) {
	for _, text := range []string{
		"DROP TABLE argo_float_metadata",
		"SELECT 1; DELETE FROM argo_float_metadata",
		"I cannot answer that.",
	} {
		t.Run(text, func(t *testing.T) {
			store := &fakeStore{}
			agent := NewMetadataAgent(store, &fakeCompleter{text: text}, StructuredOptions{}, zaptest.NewLogger(t))

			res := agent.Run(context.Background(), NewQuery("list floats"))
			assertResultInvariant(t, res)
			assert.False(t, res.Success)
			assert.Equal(t, sqlguard.ErrRejected.Error(), res.Error)
			assert.Zero(t, store.calls, "store must not be called for rejected text")
		})
	}
}

func TestStructuredAgentDryRunNeverExecutes(t *testing.T) {
	store := &fakeStore{}
	agent := NewMetadataAgent(store, &fakeCompleter{text: "select float_id from argo_float_metadata;"}, StructuredOptions{}, zaptest.NewLogger(t))

	res := agent.DryRun(context.Background(), NewQuery("list floats"))
	require.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Equal(t, "select float_id from argo_float_metadata", res.Query)
	assert.Zero(t, res.RowCount())
	assert.Zero(t, store.calls)
}

func TestStructuredAgentFailures(t *testing.T) {
	t.Run("generation error", func(t *testing.T) {
		agent := NewProfileAgent(&fakeStore{}, &fakeCompleter{err: errors.New("timeout")}, StructuredOptions{}, zaptest.NewLogger(t))
		res := agent.Run(context.Background(), NewQuery("q"))
		assertResultInvariant(t, res)
		assert.Contains(t, res.Error, "query generation failed")
	})

	t.Run("store error keeps the executed query", func(t *testing.T) {
		store := &fakeStore{err: errors.New("no such column: temp")}
		agent := NewProfileAgent(store, &fakeCompleter{text: "SELECT temp FROM argo_profiles"}, StructuredOptions{}, zaptest.NewLogger(t))
		res := agent.Run(context.Background(), NewQuery("q"))
		assertResultInvariant(t, res)
		assert.Equal(t, "SELECT temp FROM argo_profiles", res.Query)
		assert.Contains(t, res.Error, "query execution failed")
		assert.Equal(t, 17, res.TokensUsed)
	})

	t.Run("panic is contained", func(t *testing.T) {
		agent := NewProfileAgent(&fakeStore{}, &fakeCompleter{panic: true}, StructuredOptions{}, zaptest.NewLogger(t))
		var res Result
		require.NotPanics(t, func() { res = agent.Run(context.Background(), NewQuery("q")) })
		assertResultInvariant(t, res)
		assert.Contains(t, res.Error, "panicked")
	})

	t.Run("empty question", func(t *testing.T) {
		gen := &fakeCompleter{text: "SELECT 1"}
		agent := NewProfileAgent(&fakeStore{}, gen, StructuredOptions{}, zaptest.NewLogger(t))
		res := agent.Run(context.Background(), Query{})
		assert.False(t, res.Success)
		assert.Empty(t, gen.last.UserPrompt)
	})
}

func TestStructuredUserPromptScope(t *testing.T) {
	q := NewQuery("mean temperature at 500m")
	q.FloatID = "29'02224"
	q.TimeRange = &TimeRange{
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	p := structuredUserPrompt(q)
	assert.Contains(t, p, "Question: mean temperature at 500m")
	assert.Contains(t, p, "float_id = '29''02224'")
	assert.Contains(t, p, "at or after 2023-01-01T00:00:00Z")
	assert.Contains(t, p, "before 2024-01-01T00:00:00Z")
}

func TestPromptsCarryNoSecrets(t *testing.T) {
	for _, s := range []string{structuredSystemPrompt(profileSchema, 10), structuredSystemPrompt(metadataSchema, 10)} {
		assert.NotContains(t, s, "password")
		assert.NotContains(t, s, "host=")
	}
}

func TestRetrievalAgent(t *testing.T) {
	docs := []Document{
		{ID: "p1", Title: "Argo and the mixed layer", Authors: []string{"Roemmich, D."}, Year: 2019, Score: 0.91},
		{ID: "p2", Title: "Oxygen decline in the tropical Pacific", Year: 2021, Score: 0.78},
	}

	t.Run("success preserves order and scope", func(t *testing.T) {
		s := &fakeSearcher{docs: docs}
		agent := NewRetrievalAgent(s, 5, zaptest.NewLogger(t))
		q := NewQuery("mixed layer depth trends")
		q.YearRange = &YearRange{From: 2015, To: 2022}

		res := agent.Run(context.Background(), q)
		assertResultInvariant(t, res)
		require.True(t, res.Success)
		assert.Equal(t, docs, res.Documents)
		assert.Equal(t, 5, s.topK)
		assert.Equal(t, q.YearRange, s.years)
	})

	t.Run("malformed item fails the whole result", func(t *testing.T) {
		bad := append([]Document{}, docs...)
		bad = append(bad, Document{ID: "p3"})
		res := NewRetrievalAgent(&fakeSearcher{docs: bad}, 5, zaptest.NewLogger(t)).Run(context.Background(), NewQuery("q"))
		assertResultInvariant(t, res)
		assert.False(t, res.Success)
	})

	t.Run("collaborator error", func(t *testing.T) {
		res := NewRetrievalAgent(&fakeSearcher{err: errors.New("qdrant down")}, 5, zaptest.NewLogger(t)).Run(context.Background(), NewQuery("q"))
		assertResultInvariant(t, res)
		assert.Contains(t, res.Error, "qdrant down")
	})

	t.Run("no hits is a success", func(t *testing.T) {
		res := NewRetrievalAgent(&fakeSearcher{}, 5, zaptest.NewLogger(t)).Run(context.Background(), NewQuery("q"))
		assert.True(t, res.Success)
		assert.NotNil(t, res.Documents)
		assert.Empty(t, res.Documents)
	})
}

func TestConversationalAgent(t *testing.T) {
	gen := &fakeCompleter{text: "Hello! Ask me about Argo floats."}
	res := NewConversationalAgent(gen, 0, zaptest.NewLogger(t)).Run(context.Background(), NewQuery("  hi  "))

	require.True(t, res.Success)
	assert.Equal(t, "Hello! Ask me about Argo floats.", res.Text)
	assert.Equal(t, "hi", gen.last.UserPrompt)
	assert.Equal(t, 300, gen.last.MaxTokens)

	failed := NewConversationalAgent(&fakeCompleter{err: errors.New("boom")}, 0, zaptest.NewLogger(t)).Run(context.Background(), NewQuery("hi"))
	assertResultInvariant(t, failed)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("metadata")
	require.NoError(t, err)
	assert.True(t, k.Structured())
	assert.False(t, KindRetrieval.Structured())

	_, err = ParseKind("weather")
	assert.Error(t, err)
}
