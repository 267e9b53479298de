package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetrievalAgent finds literature relevant to the question.
type RetrievalAgent struct {
	searcher Searcher
	topK     int
	logger   *zap.Logger
}

func NewRetrievalAgent(searcher Searcher, topK int, logger *zap.Logger) *RetrievalAgent {
	if topK <= 0 {
		topK = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalAgent{searcher: searcher, topK: topK, logger: logger.With(zap.String("agent", string(KindRetrieval)))}
}

func (a *RetrievalAgent) Kind() Kind { return KindRetrieval }

func (a *RetrievalAgent) Run(ctx context.Context, q Query) (res Result) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			a.logger.Error("Retrieval agent panicked", zap.Any("panic", v))
			res = Recovered(KindRetrieval, v, start)
		}
	}()

	if q.Text == "" {
		return Failed(KindRetrieval, "", ErrEmptyQuestion, Timings{Total: time.Since(start)}, 0, "")
	}

	docs, err := a.searcher.Search(ctx, q.Text, a.topK, q.YearRange)
	elapsed := time.Since(start)
	t := Timings{Execution: elapsed, Total: elapsed}
	if err != nil {
		a.logger.Warn("Literature search failed", zap.Error(err))
		return Failed(KindRetrieval, "", fmt.Errorf("literature search failed: %w", err), t, 0, "")
	}
	for i, d := range docs {
		if d.ID == "" || d.Title == "" {
			return Failed(KindRetrieval, "", fmt.Errorf("literature search returned malformed item %d", i), t, 0, "")
		}
	}
	if len(docs) > a.topK {
		docs = docs[:a.topK]
	}
	if docs == nil {
		docs = []Document{}
	}
	return succeededDocuments(docs, t)
}
