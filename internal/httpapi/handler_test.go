package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/pipeline"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/sqlguard"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/synthesis"
)

type fakeService struct {
	resp      *synthesis.Response
	err       error
	dry       agents.Result
	dryErr    error
	lastQuery agents.Query
	lastKind  agents.Kind
	requestID string
	deadline  time.Time
	bounded   bool
	block     bool
}

func (f *fakeService) Ask(ctx context.Context, q agents.Query) (*synthesis.Response, error) {
	f.lastQuery = q
	f.requestID = pipeline.RequestIDFrom(ctx)
	f.deadline, f.bounded = ctx.Deadline()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func (f *fakeService) DryRun(_ context.Context, kind agents.Kind, q agents.Query) (agents.Result, error) {
	f.lastKind, f.lastQuery = kind, q
	return f.dry, f.dryErr
}

func (f *fakeService) Classify(_ context.Context, text string) router.Decision {
	return router.ForCategory(router.LiteratureReview)
}

type response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	RequestID string          `json:"request_id"`
}

func newTestMux(t *testing.T, svc Service, opts Options) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(svc, opts, zaptest.NewLogger(t)).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var out response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestQuerySuccess(t *testing.T) {
	svc := &fakeService{resp: &synthesis.Response{Answer: "Warm.", Citations: []synthesis.Citation{}}}
	mux := newTestMux(t, svc, Options{})

	rec, body := do(t, mux, http.MethodPost, "/api/v1/query",
		`{"query":" Mean temperature? ","float_id":"2902224","enable_literature":false,"year_range":{"from":2010}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Contains(t, string(body.Data), `"answer":"Warm."`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), svc.requestID)

	assert.Equal(t, "Mean temperature?", svc.lastQuery.Text)
	assert.Equal(t, "2902224", svc.lastQuery.FloatID)
	assert.True(t, svc.lastQuery.EnableData)
	assert.False(t, svc.lastQuery.EnableLiterature)
	require.NotNil(t, svc.lastQuery.YearRange)
	assert.Equal(t, 2010, svc.lastQuery.YearRange.From)
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		msg    string
	}{
		{"bad json", nil, `{"query":`, http.StatusBadRequest, "invalid JSON"},
		{"unknown field", nil, `{"query":"q","foo":1}`, http.StatusBadRequest, "invalid JSON"},
		{"empty query", nil, `{"query":"  "}`, http.StatusBadRequest, "query is required"},
		{"invalid range", errors.Join(pipeline.ErrInvalidQuery), `{"query":"q"}`, http.StatusBadRequest, "invalid query"},
		{"synthesis", errors.Join(synthesis.ErrSynthesisFailed, errors.New("llm 500 body secrets")), `{"query":"q"}`, http.StatusBadGateway, "failed to synthesize an answer"},
		{"conversation", fmt.Errorf("%w: conversation failed: llm secrets", pipeline.ErrConversationFailed), `{"query":"hi"}`, http.StatusBadGateway, "failed to generate a reply"},
		{"breaker", circuitbreaker.ErrCircuitBreakerOpen, `{"query":"q"}`, http.StatusServiceUnavailable, "a required backend is unavailable"},
		{"other", errors.New("boom"), `{"query":"q"}`, http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t, &fakeService{err: tt.err}, Options{})
			rec, body := do(t, mux, http.MethodPost, "/api/v1/query", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, body.Success)
			assert.Contains(t, body.Error, tt.msg)
			assert.NotContains(t, body.Error, "secrets")
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Run("deadline applied", func(t *testing.T) {
		svc := &fakeService{resp: &synthesis.Response{Answer: "ok"}}
		mux := newTestMux(t, svc, Options{RequestTimeout: 5 * time.Second})

		rec, _ := do(t, mux, http.MethodPost, "/api/v1/query", `{"query":"q"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.True(t, svc.bounded)
		assert.WithinDuration(t, time.Now().Add(5*time.Second), svc.deadline, time.Second)
	})

	t.Run("zero means unbounded", func(t *testing.T) {
		svc := &fakeService{resp: &synthesis.Response{Answer: "ok"}}
		mux := newTestMux(t, svc, Options{})

		do(t, mux, http.MethodPost, "/api/v1/query", `{"query":"q"}`)
		assert.False(t, svc.bounded)
	})

	t.Run("expiry maps to 504", func(t *testing.T) {
		svc := &fakeService{block: true}
		mux := newTestMux(t, svc, Options{RequestTimeout: 20 * time.Millisecond})

		rec, body := do(t, mux, http.MethodPost, "/api/v1/query", `{"query":"q"}`)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, "request timed out", body.Error)
	})
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestMux(t, &fakeService{}, Options{})
	rec, body := do(t, mux, http.MethodGet, "/api/v1/query", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, body.Success)
}

func TestDryRun(t *testing.T) {
	svc := &fakeService{dry: agents.Result{Agent: agents.KindMetadata, Success: true, DryRun: true, Query: "SELECT 1"}}
	mux := newTestMux(t, svc, Options{})

	rec, body := do(t, mux, http.MethodPost, "/api/v1/query/dry-run", `{"query":"active floats","agent":"metadata"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Equal(t, agents.KindMetadata, svc.lastKind)
	assert.Contains(t, string(body.Data), `"dry_run":true`)

	rec, _ = do(t, mux, http.MethodPost, "/api/v1/query/dry-run", `{"query":"q","agent":"oracle"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.dryErr = pipeline.ErrUnsupportedAgent
	rec, _ = do(t, mux, http.MethodPost, "/api/v1/query/dry-run", `{"query":"q","agent":"retrieval"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.dryErr = nil
	svc.dry = agents.Failed(agents.KindProfiles, "DROP TABLE x", sqlguard.ErrRejected, agents.Timings{}, 0, "")
	rec, body = do(t, mux, http.MethodPost, "/api/v1/query/dry-run", `{"query":"q","agent":"profiles"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, sqlguard.ErrRejected.Error(), body.Error)
}

func TestClassify(t *testing.T) {
	mux := newTestMux(t, &fakeService{}, Options{})
	rec, body := do(t, mux, http.MethodPost, "/api/v1/classify", `{"query":"papers on eddies"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body.Data), `"category":"literature_review"`)
	assert.Contains(t, string(body.Data), `"agents":["retrieval"]`)
}

func TestRateLimit(t *testing.T) {
	mux := newTestMux(t, &fakeService{resp: &synthesis.Response{}}, Options{RequestsPerSecond: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		rec, _ := do(t, mux, http.MethodPost, "/api/v1/query", `{"query":"q"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := do(t, mux, http.MethodPost, "/api/v1/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", body.Error)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiterPerClient(t *testing.T) {
	l := newRateLimiter(1, 1)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"))

	now = now.Add(time.Hour)
	l.allow("c")
	assert.Len(t, l.clients, 1)

	var unlimited *rateLimiter
	assert.True(t, unlimited.allow("x"))
	assert.Nil(t, newRateLimiter(0, 5))
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "192.168.1.5:5555"
	assert.Equal(t, "192.168.1.5", clientKey(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientKey(r))
}

func TestMetricsRoute(t *testing.T) {
	mux := newTestMux(t, &fakeService{}, Options{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
