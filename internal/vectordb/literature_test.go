package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
)

type staticEmbedder struct {
	vec []float32
	err error
}

func (s staticEmbedder) Embed(context.Context, string) ([]float32, error) { return s.vec, s.err }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newWithBase(Config{Enabled: true, Threshold: 0.2}, srv.URL, zaptest.NewLogger(t))
}

func writePoints(w http.ResponseWriter, points []map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"result": map[string]any{"points": points},
	})
}

func TestLiteratureSearch(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/literature_chunks/points/query", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writePoints(w, []map[string]any{
			{"id": 11, "score": 0.93, "payload": map[string]any{
				"paper_id": "10.1029/2019GL083", "title": "Argo reveals mixed layer deepening",
				"authors": []any{"Li, G.", "Cheng, L."}, "year": 2020, "doi": "10.1029/2019GL083",
				"journal": "GRL", "text": "We use Argo profiles...",
			}},
			{"id": "4f0c2f1e-0000-4000-8000-000000000000", "score": 1.4, "payload": map[string]any{
				"title": "Oxygen minimum zones", "authors": "Stramma, L.; Schmidtko, S.", "year": "2008",
			}},
		})
	})

	s := NewLiteratureSearcher(client, staticEmbedder{vec: []float32{0.1, 0.2}}, "literature_chunks")
	docs, err := s.Search(context.Background(), "mixed layer", 5, &agents.YearRange{From: 2005, To: 2021})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "10.1029/2019GL083", docs[0].ID)
	assert.Equal(t, []string{"Li, G.", "Cheng, L."}, docs[0].Authors)
	assert.Equal(t, 2020, docs[0].Year)
	assert.Equal(t, "GRL", docs[0].Journal)
	assert.Equal(t, "We use Argo profiles...", docs[0].Excerpt)

	assert.Equal(t, "4f0c2f1e-0000-4000-8000-000000000000", docs[1].ID)
	assert.Equal(t, []string{"Stramma, L.", "Schmidtko, S."}, docs[1].Authors)
	assert.Equal(t, 2008, docs[1].Year)
	assert.Equal(t, 1.0, docs[1].Score, "score is clamped to [0,1]")

	assert.EqualValues(t, 5, body["limit"])
	assert.EqualValues(t, 0.2, body["score_threshold"])
	filter := body["filter"].(map[string]any)
	cond := filter["must"].([]any)[0].(map[string]any)
	assert.Equal(t, "year", cond["key"])
	assert.EqualValues(t, 2005, cond["range"].(map[string]any)["gte"])
	assert.EqualValues(t, 2021, cond["range"].(map[string]any)["lte"])
}

func TestLiteratureSearchMalformedPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"missing title", map[string]any{"paper_id": "p1"}},
		{"bad authors", map[string]any{"paper_id": "p1", "title": "t", "authors": 42}},
		{"bad year", map[string]any{"paper_id": "p1", "title": "t", "year": "recent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writePoints(w, []map[string]any{
					{"id": 1, "score": 0.9, "payload": map[string]any{"paper_id": "ok", "title": "fine"}},
					{"id": 2, "score": 0.8, "payload": tt.payload},
				})
			})
			docs, err := NewLiteratureSearcher(client, staticEmbedder{vec: []float32{1}}, "c").Search(context.Background(), "q", 5, nil)
			assert.Error(t, err)
			assert.Nil(t, docs, "no partial results")
		})
	}
}

func TestSearchFallsBackToLegacyEndpoint(t *testing.T) {
	var legacy map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/c/points/query":
			w.WriteHeader(http.StatusNotFound)
		case "/collections/c/points/search":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&legacy))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{{"id": 1, "score": 0.5, "payload": map[string]any{"title": "Legacy"}}},
			})
		}
	})

	points, err := client.Search(context.Background(), "c", []float32{1, 2}, 3, nil)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "Legacy", points[0].Payload["title"])
	assert.NotNil(t, legacy["vector"])
	assert.Nil(t, legacy["filter"])
}

func TestSearchErrors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		c := New(Config{Enabled: false}, zaptest.NewLogger(t))
		_, err := c.Search(context.Background(), "c", []float32{1}, 1, nil)
		assert.ErrorIs(t, err, ErrDisabled)
	})

	t.Run("both endpoints fail", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})
		_, err := client.Search(context.Background(), "c", []float32{1}, 1, nil)
		assert.Error(t, err)
	})

	t.Run("embedding failure", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("qdrant must not be called")
		})
		s := NewLiteratureSearcher(client, staticEmbedder{err: errors.New("embed down")}, "c")
		_, err := s.Search(context.Background(), "q", 3, nil)
		assert.ErrorContains(t, err, "embed down")
	})
}

func TestYearFilter(t *testing.T) {
	assert.Nil(t, yearFilter(nil))
	assert.Nil(t, yearFilter(&agents.YearRange{}))

	f := yearFilter(&agents.YearRange{From: 2010})
	require.NotNil(t, f)
	require.Len(t, f.Must, 1)
	assert.Equal(t, 2010.0, *f.Must[0].Range.GTE)
	assert.Nil(t, f.Must[0].Range.LTE)
}

func TestCollection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/literature_chunks", r.URL.Path)
		_, _ = w.Write([]byte(`{"result":{"points_count":1200,"config":{"params":{"vectors":{"size":1536}}}}}`))
	})
	info, err := client.Collection(context.Background(), "literature_chunks")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), info.PointsCount)
	assert.Equal(t, 1536, info.VectorSize)
}
