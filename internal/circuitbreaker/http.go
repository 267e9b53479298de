package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPClient sends requests through a dependency breaker. Transport
// errors and 5xx responses count as failures; 4xx do not.
type HTTPClient struct {
	client *http.Client
	cb     *Instrumented
}

func NewHTTPClient(client *http.Client, dependency string, logger *zap.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{client: client, cb: ForDependency(dependency, logger)}
}

// Do returns the response for any status the server produced, including
// 5xx; only transport errors and breaker rejections come back as errors.
func (h *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := h.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = h.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
	if _, ok := err.(*statusError); ok {
		return resp, nil
	}
	return resp, err
}

func (h *HTTPClient) State() State { return h.cb.State() }

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
