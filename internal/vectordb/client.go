// Package vectordb is a small Qdrant HTTP client plus the literature
// searcher the retrieval agent uses.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/metrics"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/tracing"
)

var ErrDisabled = errors.New("vectordb: client disabled")

type Config struct {
	Enabled   bool
	Host      string
	Port      int
	Threshold float64
	Timeout   time.Duration
}

// Client talks to one Qdrant instance.
type Client struct {
	cfg  Config
	base string
	http *circuitbreaker.HTTPClient
	log  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return newWithBase(cfg, fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port), logger)
}

func newWithBase(cfg Config, base string, logger *zap.Logger) *Client {
	return &Client{
		cfg:  cfg,
		base: base,
		http: circuitbreaker.NewHTTPClient(&http.Client{Timeout: cfg.Timeout}, circuitbreaker.VectorIndex, logger),
		log:  logger,
	}
}

// Filter is a Qdrant filter clause set.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Condition matches a payload key by value or numeric range.
type Condition struct {
	Key   string      `json:"key"`
	Match *MatchValue `json:"match,omitempty"`
	Range *Range      `json:"range,omitempty"`
}

type MatchValue struct {
	Value any `json:"value"`
}

type Range struct {
	GTE *float64 `json:"gte,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

type queryRequest struct {
	Query          []float32 `json:"query"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
	Filter         *Filter   `json:"filter,omitempty"`
}

type searchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
	Filter         *Filter   `json:"filter,omitempty"`
}

// Point is one scored hit.
type Point struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type queryResponse struct {
	Result struct {
		Points []Point `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

type searchResponse struct {
	Result []Point `json:"result"`
	Status string  `json:"status"`
}

// Search prefers /points/query and falls back to the older
// /points/search endpoint on a non-200 answer.
func (c *Client) Search(ctx context.Context, collection string, vec []float32, limit int, filter *Filter) ([]Point, error) {
	if c == nil || !c.cfg.Enabled {
		return nil, ErrDisabled
	}
	start := time.Now()
	queryURL := fmt.Sprintf("%s/collections/%s/points/query", c.base, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, queryURL)
	defer span.End()

	var thr *float64
	if c.cfg.Threshold > 0 {
		thr = &c.cfg.Threshold
	}

	fail := func(err error) ([]Point, error) {
		metrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		return nil, err
	}

	var points []Point
	status, err := c.post(ctx, queryURL, queryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}, func(dec *json.Decoder) error {
		var qr queryResponse
		if err := dec.Decode(&qr); err != nil {
			return err
		}
		points = qr.Result.Points
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("qdrant query failed: %w", err))
	}
	if status != http.StatusOK {
		c.log.Debug("Qdrant /points/query unavailable, falling back to /points/search", zap.Int("status", status))
		searchURL := fmt.Sprintf("%s/collections/%s/points/search", c.base, collection)
		status, err = c.post(ctx, searchURL, searchRequest{Vector: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}, func(dec *json.Decoder) error {
			var sr searchResponse
			if err := dec.Decode(&sr); err != nil {
				return err
			}
			points = sr.Result
			return nil
		})
		if err != nil {
			return fail(fmt.Errorf("qdrant search failed: %w", err))
		}
		if status != http.StatusOK {
			return fail(fmt.Errorf("qdrant status %d", status))
		}
	}

	metrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
	return points, nil
}

// post sends body and decodes a 200 answer with decode. Other statuses are
// returned without decoding.
func (c *Client) post(ctx context.Context, url string, body any, decode func(*json.Decoder) error) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := decode(json.NewDecoder(resp.Body)); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// CollectionInfo holds basic information about a Qdrant collection.
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}

// Collection fetches collection details; used by health checks.
func (c *Client) Collection(ctx context.Context, collection string) (*CollectionInfo, error) {
	if c == nil || !c.cfg.Enabled {
		return nil, ErrDisabled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.base, collection), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:        collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}
