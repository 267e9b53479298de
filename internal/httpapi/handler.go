// Package httpapi exposes the research pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/pipeline"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/sqlguard"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/synthesis"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/tracing"
)

const maxBodyBytes = 64 << 10

// Service is satisfied by *pipeline.Service.
type Service interface {
	Ask(ctx context.Context, q agents.Query) (*synthesis.Response, error)
	DryRun(ctx context.Context, kind agents.Kind, q agents.Query) (agents.Result, error)
	Classify(ctx context.Context, text string) router.Decision
}

type Options struct {
	RequestsPerSecond float64
	Burst             int
	// RequestTimeout bounds one API call; zero means none.
	RequestTimeout time.Duration
}

// Handler serves the research API.
type Handler struct {
	svc     Service
	limiter *rateLimiter
	opts    Options
	logger  *zap.Logger
}

func NewHandler(svc Service, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:     svc,
		limiter: newRateLimiter(opts.RequestsPerSecond, opts.Burst),
		opts:    opts,
		logger:  logger,
	}
}

// RegisterRoutes registers API routes on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/v1/query", h.instrument("query", h.handleQuery))
	mux.Handle("/api/v1/query/dry-run", h.instrument("dry_run", h.handleDryRun))
	mux.Handle("/api/v1/classify", h.instrument("classify", h.handleClassify))
	mux.Handle("/metrics", promhttp.Handler())
}

// queryRequest is the payload of every API call. Toggles default to true.
type queryRequest struct {
	Query            string            `json:"query"`
	FloatID          string            `json:"float_id,omitempty"`
	TimeRange        *agents.TimeRange `json:"time_range,omitempty"`
	YearRange        *agents.YearRange `json:"year_range,omitempty"`
	EnableData       *bool             `json:"enable_data,omitempty"`
	EnableLiterature *bool             `json:"enable_literature,omitempty"`
	Agent            string            `json:"agent,omitempty"`
}

func (q queryRequest) toQuery() agents.Query {
	out := agents.NewQuery(strings.TrimSpace(q.Query))
	out.FloatID = strings.TrimSpace(q.FloatID)
	out.TimeRange = q.TimeRange
	out.YearRange = q.YearRange
	if q.EnableData != nil {
		out.EnableData = *q.EnableData
	}
	if q.EnableLiterature != nil {
		out.EnableLiterature = *q.EnableLiterature
	}
	return out
}

func decodeRequest(r *http.Request) (queryRequest, error) {
	var req queryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid JSON: %w", err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, errors.New("query is required")
	}
	return req, nil
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, sanitizeErr(err.Error()))
		return
	}

	resp, err := h.svc.Ask(r.Context(), req.toQuery())
	if err != nil {
		status, msg := errorStatus(err)
		h.logger.Warn("Query failed",
			zap.String("request_id", pipeline.RequestIDFrom(r.Context())),
			zap.Int("status", status),
			zap.Error(err))
		writeError(w, r, status, msg)
		return
	}
	writeData(w, r, resp)
}

func (h *Handler) handleDryRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, sanitizeErr(err.Error()))
		return
	}
	kind, err := agents.ParseKind(req.Agent)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "agent must be profiles or metadata")
		return
	}

	result, err := h.svc.DryRun(r.Context(), kind, req.toQuery())
	if err != nil {
		status, msg := errorStatus(err)
		writeError(w, r, status, msg)
		return
	}
	if !result.Success {
		status := http.StatusBadGateway
		if result.Error == sqlguard.ErrRejected.Error() {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, envelope{
			Error:     result.Error,
			Data:      result,
			RequestID: pipeline.RequestIDFrom(r.Context()),
		})
		return
	}
	writeData(w, r, result)
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, sanitizeErr(err.Error()))
		return
	}
	d := h.svc.Classify(r.Context(), req.Query)
	writeData(w, r, struct {
		router.Decision
		Agents []agents.Kind `json:"agents"`
	}{d, d.Selected()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument wraps a POST endpoint with request ids, tracing, rate
// limiting, logging and metrics.
func (h *Handler) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		rec.Header().Set("X-Request-ID", requestID)

		ctx := tracing.Extract(r.Context(), r.Header)
		ctx = pipeline.WithRequestID(ctx, requestID)
		ctx, span := tracing.StartSpan(ctx, "http."+route,
			attribute.String("request_id", requestID),
			attribute.String("http.method", r.Method))
		defer span.End()
		if h.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.opts.RequestTimeout)
			defer cancel()
		}
		r = r.WithContext(ctx)

		switch {
		case r.Method != http.MethodPost:
			rec.Header().Set("Allow", http.MethodPost)
			writeError(rec, r, http.StatusMethodNotAllowed, "method not allowed")
		case !h.limiter.allow(clientKey(r)):
			metrics.RateLimited.Inc()
			rec.Header().Set("Retry-After", "1")
			writeError(rec, r, http.StatusTooManyRequests, "rate limit exceeded")
		default:
			next(rec, r)
		}

		elapsed := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		h.logger.Info("HTTP request",
			zap.String("route", route),
			zap.String("request_id", requestID),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

// NewServer builds the API server. Health routes are registered by the
// caller on the same mux.
func NewServer(port int, mux *http.ServeMux, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}
