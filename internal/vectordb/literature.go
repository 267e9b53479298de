package vectordb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/util"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LiteratureSearcher implements agents.Searcher over a collection of
// paper chunks. Each point payload carries paper_id, title, authors,
// year, optional doi/journal/url and the chunk text.
type LiteratureSearcher struct {
	client     *Client
	embedder   Embedder
	collection string
}

var _ agents.Searcher = (*LiteratureSearcher)(nil)

func NewLiteratureSearcher(client *Client, embedder Embedder, collection string) *LiteratureSearcher {
	return &LiteratureSearcher{client: client, embedder: embedder, collection: collection}
}

// Search embeds text and returns up to topK documents, best first. Any
// point that cannot be decoded fails the whole search.
func (s *LiteratureSearcher) Search(ctx context.Context, text string, topK int, years *agents.YearRange) ([]agents.Document, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	points, err := s.client.Search(ctx, s.collection, vec, topK, yearFilter(years))
	if err != nil {
		return nil, err
	}

	docs := make([]agents.Document, 0, len(points))
	for i, p := range points {
		d, err := decodeDocument(p)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func yearFilter(years *agents.YearRange) *Filter {
	if years == nil || (years.From == 0 && years.To == 0) {
		return nil
	}
	r := &Range{}
	if years.From != 0 {
		from := float64(years.From)
		r.GTE = &from
	}
	if years.To != 0 {
		to := float64(years.To)
		r.LTE = &to
	}
	return &Filter{Must: []Condition{{Key: "year", Range: r}}}
}

func decodeDocument(p Point) (agents.Document, error) {
	d := agents.Document{Score: util.Clamp01(p.Score)}

	d.ID = payloadString(p.Payload, "paper_id")
	if d.ID == "" {
		d.ID = idString(p.ID)
	}
	d.Title = strings.TrimSpace(payloadString(p.Payload, "title"))
	if d.ID == "" || d.Title == "" {
		return agents.Document{}, fmt.Errorf("payload missing id or title")
	}

	switch a := p.Payload["authors"].(type) {
	case nil:
	case string:
		for _, name := range strings.Split(a, ";") {
			if name = strings.TrimSpace(name); name != "" {
				d.Authors = append(d.Authors, name)
			}
		}
	case []any:
		for _, v := range a {
			name, ok := v.(string)
			if !ok {
				return agents.Document{}, fmt.Errorf("authors must be strings")
			}
			d.Authors = append(d.Authors, name)
		}
	default:
		return agents.Document{}, fmt.Errorf("unexpected authors type %T", a)
	}

	switch y := p.Payload["year"].(type) {
	case nil:
	case float64:
		d.Year = int(y)
	case string:
		n, err := strconv.Atoi(y)
		if err != nil {
			return agents.Document{}, fmt.Errorf("invalid year %q", y)
		}
		d.Year = n
	default:
		return agents.Document{}, fmt.Errorf("unexpected year type %T", y)
	}

	d.DOI = payloadString(p.Payload, "doi")
	d.Journal = payloadString(p.Payload, "journal")
	d.URL = payloadString(p.Payload, "url")
	d.Excerpt = payloadString(p.Payload, "text")
	if d.Excerpt == "" {
		d.Excerpt = payloadString(p.Payload, "abstract")
	}
	return d, nil
}

func payloadString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Qdrant point ids are unsigned integers or UUID strings.
func idString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatUint(uint64(v), 10)
	}
	return ""
}
