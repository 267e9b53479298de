package synthesis

import (
	"time"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/usage"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/util"
)

type Citation struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Authors        []string `json:"authors"`
	DOI            string   `json:"doi,omitempty"`
	Journal        string   `json:"journal,omitempty"`
	URL            string   `json:"url,omitempty"`
	Year           int      `json:"year,omitempty"`
	RelevanceScore float64  `json:"relevance_score"`
}

// DataQuality summarises which evidence backed an answer.
type DataQuality struct {
	FloatsAnalyzed       int      `json:"floats_analyzed"`
	LiteratureReferenced int      `json:"literature_referenced"`
	SQLQueriesExecuted   int      `json:"sql_queries_executed"`
	VectorSearches       int      `json:"vector_searches"`
	AvgCitationRelevance *float64 `json:"avg_citation_relevance,omitempty"`
}

// Response is the result of one research request.
type Response struct {
	RequestID        string          `json:"request_id,omitempty"`
	Answer           string          `json:"answer"`
	Citations        []Citation      `json:"citations"`
	DataQuality      *DataQuality    `json:"data_quality"`
	Routing          router.Decision `json:"routing"`
	Timestamp        time.Time       `json:"timestamp"`
	TokensUsed       int             `json:"tokens_used,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms,omitempty"`
	Metrics          *usage.Report   `json:"metrics,omitempty"`
	Agents           []agents.Result `json:"agents,omitempty"`

	// Synthesis call accounting, folded into Metrics by the caller.
	SynthesisTokens   int           `json:"-"`
	SynthesisModel    string        `json:"-"`
	SynthesisDuration time.Duration `json:"-"`
}

// Citations maps retrieved documents one-to-one, preserving order.
func Citations(docs []agents.Document) []Citation {
	out := make([]Citation, 0, len(docs))
	for _, d := range docs {
		authors := d.Authors
		if authors == nil {
			authors = []string{}
		}
		out = append(out, Citation{
			ID:             d.ID,
			Title:          d.Title,
			Authors:        authors,
			DOI:            d.DOI,
			Journal:        d.Journal,
			URL:            d.URL,
			Year:           d.Year,
			RelevanceScore: util.Clamp01(d.Score),
		})
	}
	return out
}

// Quality counts only successful agents. Unsuccessful results carry no
// rows or documents, so they never inflate the totals.
func Quality(structured []agents.Result, retrieval *agents.Result, citations []Citation) *DataQuality {
	q := &DataQuality{LiteratureReferenced: len(citations)}
	for _, r := range structured {
		if !r.Success {
			continue
		}
		q.SQLQueriesExecuted++
		q.FloatsAnalyzed += r.RowCount()
	}
	if retrieval != nil && retrieval.Success {
		q.VectorSearches = 1
	}
	if len(citations) > 0 {
		sum := 0.0
		for _, c := range citations {
			sum += c.RelevanceScore
		}
		avg := sum / float64(len(citations))
		q.AvgCitationRelevance = &avg
	}
	return q
}
