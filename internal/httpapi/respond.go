package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/dispatch"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/pipeline"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/synthesis"
)

// envelope is the body of every API response.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, RequestID: pipeline.RequestIDFrom(r.Context())})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg, RequestID: pipeline.RequestIDFrom(r.Context())})
}

// errorStatus maps service errors to a status code and a message safe to
// show clients.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery),
		errors.Is(err, pipeline.ErrInvalidQuery),
		errors.Is(err, pipeline.ErrUnsupportedAgent):
		return http.StatusBadRequest, sanitizeErr(err.Error())
	case errors.Is(err, synthesis.ErrSynthesisFailed):
		return http.StatusBadGateway, "failed to synthesize an answer"
	case errors.Is(err, pipeline.ErrConversationFailed):
		return http.StatusBadGateway, "failed to generate a reply"
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests),
		errors.Is(err, dispatch.ErrAgentUnavailable):
		return http.StatusServiceUnavailable, "a required backend is unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// sanitizeErr trims error messages for safe client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
